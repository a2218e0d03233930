// Package scgpt implements the pretrained gene-expression transformer:
// vocabulary, preprocessing, tokenization, the model itself with its
// training and evaluation loops, and cell-embedding extraction.
package scgpt

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// Special tokens understood by the gene vocabulary.
const (
	PadToken = "<pad>"
	ClsToken = "<cls>"
	EocToken = "<eoc>"
)

// SpecialTokens are added to a loaded vocabulary when absent.
var SpecialTokens = []string{PadToken, ClsToken, EocToken}

// GeneVocab maps gene symbols and special tokens to model token ids.
type GeneVocab struct {
	tokenToID map[string]int32
	idToToken map[int32]string
	nextID    int32
	defaultID int32
}

// LoadVocab reads a vocab.json file, a flat object of token -> id.
func LoadVocab(path string) (*GeneVocab, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading vocabulary: %w", err)
	}
	var entries map[string]int32
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parsing vocabulary %s: %w", path, err)
	}
	v := &GeneVocab{
		tokenToID: make(map[string]int32, len(entries)),
		idToToken: make(map[int32]string, len(entries)),
		defaultID: -1,
	}
	for token, id := range entries {
		v.tokenToID[token] = id
		v.idToToken[id] = token
		if id >= v.nextID {
			v.nextID = id + 1
		}
	}
	return v, nil
}

// Save writes the vocabulary back out as vocab.json.
func (v *GeneVocab) Save(path string) error {
	out := make(map[string]int32, len(v.tokenToID))
	for token, id := range v.tokenToID {
		out[token] = id
	}
	raw, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}

// Len returns the model's input vocabulary size: one past the highest
// assigned id, so an embedding table of this size covers every token even
// when the id space has holes.
func (v *GeneVocab) Len() int {
	return int(v.nextID)
}

// Contains reports whether token is in the vocabulary.
func (v *GeneVocab) Contains(token string) bool {
	_, ok := v.tokenToID[token]
	return ok
}

// AddToken appends a new token at the next free id and returns that id.
// Adding an existing token returns its current id.
func (v *GeneVocab) AddToken(token string) int32 {
	if id, ok := v.tokenToID[token]; ok {
		return id
	}
	id := v.nextID
	v.nextID++
	v.tokenToID[token] = id
	v.idToToken[id] = token
	return id
}

// SetDefaultIndex sets the id returned for out-of-vocabulary lookups.
func (v *GeneVocab) SetDefaultIndex(id int32) {
	v.defaultID = id
}

// ID returns the id of token, or the default index when unknown.
func (v *GeneVocab) ID(token string) int32 {
	if id, ok := v.tokenToID[token]; ok {
		return id
	}
	return v.defaultID
}

// IDs maps a list of tokens to ids in one call.
func (v *GeneVocab) IDs(tokens []string) []int32 {
	ids := make([]int32, len(tokens))
	for i, token := range tokens {
		ids[i] = v.ID(token)
	}
	return ids
}

// Tokens returns all tokens sorted by id, for deterministic iteration.
func (v *GeneVocab) Tokens() []string {
	ids := make([]int, 0, len(v.idToToken))
	for id := range v.idToToken {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)
	tokens := make([]string, len(ids))
	for i, id := range ids {
		tokens[i] = v.idToToken[int32(id)]
	}
	return tokens
}
