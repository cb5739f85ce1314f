package promptbuild

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

var auditMu sync.Mutex

type auditRecord struct {
	Timestamp        string `json:"timestamp"`
	RequestDigest    string `json:"request_digest"`
	ID               string `json:"id,omitempty"`
	Idea             string `json:"idea"`
	FinalPrompt      string `json:"final_prompt"`
	Provider         string `json:"provider"`
	Model            string `json:"model"`
	Preset           string `json:"preset,omitempty"`
	Branch           string `json:"branch"`
	TokenCost        int    `json:"token_cost"`
	MaxTokens        int    `json:"max_tokens"`
	CacheHit         bool   `json:"cache_hit,omitempty"`
	IdeaTruncated    bool   `json:"idea_truncated,omitempty"`
	BodyTruncated    bool   `json:"body_truncated,omitempty"`
	NegativesTrimmed bool   `json:"negatives_trimmed,omitempty"`
	NegativesDropped bool   `json:"negatives_dropped,omitempty"`
}

func (b *Builder) writeAuditRecord(req BuildRequest, res *BuildResult) error {
	if !b.cfg.Audit.Enabled {
		return nil
	}

	auditDir := b.cfg.Resolve(b.cfg.Audit.Dir)
	if err := os.MkdirAll(auditDir, 0755); err != nil {
		return fmt.Errorf("create audit dir: %w", err)
	}

	now := time.Now()
	fileName := fmt.Sprintf("%s-%s.jsonl", b.auditPrefix(), now.Format("2006-01-02"))
	filePath := filepath.Join(auditDir, fileName)

	rc := res.Reconcile
	record := auditRecord{
		Timestamp:        now.Format(time.RFC3339),
		RequestDigest:    buildRequestDigest(req, res),
		ID:               res.ID,
		Idea:             res.Idea,
		FinalPrompt:      res.Prompt,
		Provider:         res.Provider,
		Model:            res.Model,
		Preset:           res.Preset,
		Branch:           string(rc.Branch),
		TokenCost:        rc.Cost,
		MaxTokens:        res.MaxTokens,
		CacheHit:         res.CacheHit,
		IdeaTruncated:    rc.IdeaTruncated,
		BodyTruncated:    rc.BodyTruncated,
		NegativesTrimmed: rc.NegativesTrimmed,
		NegativesDropped: rc.NegativesDropped,
	}

	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}

	auditMu.Lock()
	defer auditMu.Unlock()

	if err := appendJSONL(filePath, line); err != nil {
		return err
	}

	return b.cleanupOldAuditFilesWithNow(now)
}

func appendJSONL(filePath string, line []byte) error {
	f, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open audit file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write audit file: %w", err)
	}
	return nil
}

func (b *Builder) CleanupOldAuditFiles() error {
	auditMu.Lock()
	defer auditMu.Unlock()
	return b.cleanupOldAuditFilesWithNow(time.Now())
}

func (b *Builder) cleanupOldAuditFilesWithNow(now time.Time) error {
	if !b.cfg.Audit.Enabled || b.cfg.Audit.RetentionDays <= 0 {
		return nil
	}

	auditDir := b.cfg.Resolve(b.cfg.Audit.Dir)
	entries, err := os.ReadDir(auditDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("list audit dir: %w", err)
	}

	prefix := b.auditPrefix()
	cutoff := now.AddDate(0, 0, -b.cfg.Audit.RetentionDays)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, prefix+"-") || !strings.HasSuffix(name, ".jsonl") {
			continue
		}

		filePath := filepath.Join(auditDir, name)
		if fileDate, ok := parseAuditDate(name, prefix); ok {
			if fileDate.Before(startOfDay(cutoff)) {
				if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
					return fmt.Errorf("remove old audit file %s: %w", filePath, err)
				}
			}
			continue
		}

		info, err := entry.Info()
		if err != nil {
			return fmt.Errorf("stat audit file %s: %w", filePath, err)
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("remove old audit file %s: %w", filePath, err)
			}
		}
	}

	return nil
}

func (b *Builder) auditPrefix() string {
	if p := strings.TrimSpace(b.cfg.Audit.FilePrefix); p != "" {
		return p
	}
	return "promptbuild"
}

func parseAuditDate(filename, prefix string) (time.Time, bool) {
	raw := strings.TrimSuffix(filename, ".jsonl")
	raw = strings.TrimPrefix(raw, prefix+"-")
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// buildRequestDigest identifies the inputs that determine the prompt.
func buildRequestDigest(req BuildRequest, res *BuildResult) string {
	digestInput := struct {
		Idea       string `json:"idea"`
		Preset     string `json:"preset,omitempty"`
		PresetPath string `json:"preset_path,omitempty"`
		MaxTokens  int    `json:"max_tokens"`
		Provider   string `json:"provider"`
		Model      string `json:"model"`
	}{
		Idea:       res.Idea,
		Preset:     strings.TrimSpace(req.Preset),
		PresetPath: strings.TrimSpace(req.PresetPath),
		MaxTokens:  res.MaxTokens,
		Provider:   res.Provider,
		Model:      res.Model,
	}
	payload, _ := json.Marshal(digestInput)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
