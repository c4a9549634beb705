// Package checksum fingerprints content so unchanged data can be skipped.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/starford/mdlinks/internal/models"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Graph returns a digest of the nodes and edges of g. The derived metadata
// is left out, so two graphs with the same content hash alike no matter
// when they were last updated.
func Graph(g *models.Graph) (string, error) {
	data, err := json.Marshal(struct {
		Nodes []models.Node `json:"nodes"`
		Edges []models.Edge `json:"edges"`
	}{g.Nodes, g.Edges})
	if err != nil {
		return "", fmt.Errorf("checksum: encode graph: %w", err)
	}
	return Sum(data), nil
}
