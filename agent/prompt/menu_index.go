package prompt

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"unicode"

	"github.com/gowebpki/jcs"
	chromem "github.com/philippgille/chromem-go"
	tenantx "github.com/tanpawarit/chative-restaurant-agent/agent/tenant"
)

// MenuIndex ranks menu items by similarity to an utterance, one chromem collection
// per restaurant. A collection is rebuilt when the menu digest changes.
type MenuIndex struct {
	mu      sync.Mutex
	db      *chromem.DB
	embed   chromem.EmbeddingFunc
	digests map[string]string
}

func NewMenuIndex(embed chromem.EmbeddingFunc) *MenuIndex {
	if embed == nil {
		embed = HashEmbedding(256)
	}
	return &MenuIndex{
		db:      chromem.NewDB(),
		embed:   embed,
		digests: make(map[string]string),
	}
}

// Relevant returns up to k item ids ordered by similarity to query.
func (m *MenuIndex) Relevant(ctx context.Context, restaurantID string, menu tenantx.MenuContext, query string, k int) ([]string, error) {
	if k <= 0 || menu.Len() == 0 || strings.TrimSpace(query) == "" {
		return nil, nil
	}
	col, err := m.collection(ctx, restaurantID, menu)
	if err != nil {
		return nil, err
	}

	if count := col.Count(); k > count {
		k = count
	}
	results, err := col.Query(ctx, query, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query menu index: %w", err)
	}
	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.ID)
	}
	return ids, nil
}

func (m *MenuIndex) collection(ctx context.Context, restaurantID string, menu tenantx.MenuContext) (*chromem.Collection, error) {
	digest, err := MenuDigest(menu)
	if err != nil {
		return nil, err
	}
	name := "menu_" + restaurantID

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.digests[restaurantID] == digest {
		if col := m.db.GetCollection(name, m.embed); col != nil {
			return col, nil
		}
	}

	if err := m.db.DeleteCollection(name); err != nil {
		return nil, fmt.Errorf("drop menu collection: %w", err)
	}
	col, err := m.db.CreateCollection(name, map[string]string{"digest": digest}, m.embed)
	if err != nil {
		return nil, fmt.Errorf("create menu collection: %w", err)
	}
	docs := make([]chromem.Document, 0, menu.Len())
	for _, it := range menu.Items {
		docs = append(docs, chromem.Document{
			ID:       it.ID,
			Content:  itemDocument(it),
			Metadata: map[string]string{"category": it.Category},
		})
	}
	if err := col.AddDocuments(ctx, docs, 4); err != nil {
		return nil, fmt.Errorf("index menu: %w", err)
	}
	m.digests[restaurantID] = digest
	return col, nil
}

func itemDocument(it tenantx.MenuItem) string {
	parts := []string{it.Name, it.Category, it.Description}
	for _, mod := range it.Modifiers {
		parts = append(parts, mod.Name)
	}
	return strings.Join(parts, ". ")
}

// MenuDigest is the sha256 of the RFC 8785 canonical JSON of the available menu.
func MenuDigest(menu tenantx.MenuContext) (string, error) {
	raw, err := json.Marshal(menu.Items)
	if err != nil {
		return "", fmt.Errorf("marshal menu: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize menu: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// HashEmbedding is a local bag-of-words embedding: each lowercase token is hashed
// into one of dim buckets and the vector is L2-normalized. It needs no network and
// is deterministic, which suits tests and deployments without an embedding endpoint.
func HashEmbedding(dim int) chromem.EmbeddingFunc {
	if dim <= 0 {
		dim = 256
	}
	return func(_ context.Context, text string) ([]float32, error) {
		vec := make([]float32, dim)
		tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		for _, tok := range tokens {
			h := fnv.New32a()
			_, _ = h.Write([]byte(tok))
			vec[h.Sum32()%uint32(dim)]++
		}
		var norm float64
		for _, v := range vec {
			norm += float64(v) * float64(v)
		}
		if norm == 0 {
			vec[0] = 1
			return vec, nil
		}
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
		return vec, nil
	}
}
