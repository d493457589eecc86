// Package mail provides the MailAdapter boundary implementation. Real
// mail fetching (Gmail/Outlook OAuth, signature stripping) is explicitly
// out of scope (§1); this adapter instead reads newline-delimited JSON
// message records from a directory, which is what local runs and the
// test scenarios in §8 exercise against.
package mail

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"collabiq/core/domain"
	"collabiq/internal/apperr"
)

// FileAdapter implements out.MailAdapter over a directory of `*.jsonl`
// files, each line a {message_id, body_text, received_at} record. Ids are
// assumed to sort in arrival order, matching the "stable ids" contract
// (§6).
type FileAdapter struct {
	dir string
}

func NewFileAdapter(dir string) *FileAdapter {
	return &FileAdapter{dir: dir}
}

type messageRecord struct {
	MessageID  string    `json:"message_id"`
	BodyText   string    `json:"body_text"`
	ReceivedAt time.Time `json:"received_at"`
}

// Fetch returns every message strictly after afterID, in id order.
func (a *FileAdapter) Fetch(ctx context.Context, afterID string) ([]domain.Email, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperr.NewTransient("mail", "failed to list mail directory", err)
	}

	var all []domain.Email
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".jsonl" {
			continue
		}
		records, err := readMessageFile(filepath.Join(a.dir, entry.Name()))
		if err != nil {
			return nil, apperr.NewPermanent("mail", fmt.Sprintf("malformed mail file %s", entry.Name()), err)
		}
		all = append(all, records...)
	}

	sort.Slice(all, func(i, j int) bool { return all[i].MessageID < all[j].MessageID })

	if afterID == "" {
		return all, nil
	}
	for i, e := range all {
		if e.MessageID > afterID {
			return all[i:], nil
		}
	}
	return nil, nil
}

func readMessageFile(path string) ([]domain.Email, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []domain.Email
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec messageRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, err
		}
		out = append(out, domain.Email{MessageID: rec.MessageID, BodyText: rec.BodyText, ReceivedAt: rec.ReceivedAt})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
