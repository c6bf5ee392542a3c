package auditlog

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// GenesisHash anchors the chain: 64 hex zeros.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Entry is one audit record.
type Entry struct {
	Index     int       `json:"index"`
	Timestamp time.Time `json:"timestamp"`
	Subject   string    `json:"subject"` // usually the affected user ID
	Action    string    `json:"action"`
	Actor     string    `json:"actor"`
	DataHash  string    `json:"data_hash"`
	PrevHash  string    `json:"prev_hash"`
	Hash      string    `json:"hash"`
}

func genesisEntry(ts time.Time) *Entry {
	return &Entry{
		Index:     0,
		Timestamp: ts,
		Action:    ActionGenesis,
		Actor:     SystemActor,
		DataHash:  GenesisHash,
		PrevHash:  GenesisHash,
		Hash:      GenesisHash,
	}
}

// link fills in the chain fields of e so it follows prev.
func link(e *Entry, prev *Entry, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	sum := sha256.Sum256(raw)
	e.Index = prev.Index + 1
	e.DataHash = hex.EncodeToString(sum[:])
	e.PrevHash = prev.Hash
	e.Hash = computeHash(e)
	return nil
}

// computeHash must never be applied to the genesis entry.
func computeHash(e *Entry) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|%s|%s|%s|%s|%s",
		e.Index, e.Timestamp.UTC().Format(time.RFC3339Nano),
		e.Subject, e.Action, e.Actor, e.DataHash, e.PrevHash,
	)
	return hex.EncodeToString(h.Sum(nil))
}

// chainChecker validates entries fed to it in index order.
type chainChecker struct {
	prev *Entry
}

func (c *chainChecker) check(curr *Entry) error {
	if c.prev == nil {
		if curr.Hash != GenesisHash {
			return fmt.Errorf("genesis entry has wrong hash: got %q", curr.Hash)
		}
		c.prev = curr
		return nil
	}
	if curr.PrevHash != c.prev.Hash {
		return fmt.Errorf("hash chain broken at index %d", curr.Index)
	}
	if curr.Hash != computeHash(curr) {
		return fmt.Errorf("entry %d has invalid hash", curr.Index)
	}
	c.prev = curr
	return nil
}
