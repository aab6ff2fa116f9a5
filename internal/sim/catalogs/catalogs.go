package catalogs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

type Catalogs struct {
	Blocks BlockCatalog
}

type BlockCatalog struct {
	Palette       []string
	Index         map[string]uint16
	Defs          map[string]BlockDef
	PaletteDigest string
	DefsDigest    string
}

type BlockDef struct {
	ID        string `json:"id"`
	Solid     bool   `json:"solid"`
	Liquid    bool   `json:"liquid,omitempty"`
	Climbable bool   `json:"climbable,omitempty"`
	// Height is the top of the collision shape in cell units; 0 means a full cell.
	Height float64 `json:"height,omitempty"`
}

// TopY returns the collision top of the block relative to its cell.
func (d BlockDef) TopY() float64 {
	if d.Height <= 0 || d.Height > 1.5 {
		return 1
	}
	return d.Height
}

// Partial reports blocks shorter than a full cell (slabs, carpets).
func (d BlockDef) Partial() bool {
	return d.Height > 0 && d.Height < 1
}

func Load(configDir string) (*Catalogs, error) {
	var c Catalogs
	if err := loadBlocks(filepath.Join(configDir, "blocks.json"), &c.Blocks); err != nil {
		return nil, err
	}
	return &c, nil
}

// Def returns the definition for a palette id. Unknown ids resolve to AIR.
func (b *BlockCatalog) Def(id uint16) BlockDef {
	if int(id) >= len(b.Palette) {
		return b.Defs["AIR"]
	}
	return b.Defs[b.Palette[id]]
}

func (b *BlockCatalog) Name(id uint16) string {
	if int(id) >= len(b.Palette) {
		return "AIR"
	}
	return b.Palette[id]
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func loadBlocks(path string, out *BlockCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return parseBlocks(raw, out)
}

func parseBlocks(raw []byte, out *BlockCatalog) error {
	out.DefsDigest = sha256Hex(raw)

	var defs []BlockDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("blocks.json: %w", err)
	}
	out.Defs = map[string]BlockDef{}
	for _, d := range defs {
		if d.ID == "" {
			return fmt.Errorf("blocks.json: empty id")
		}
		if _, dup := out.Defs[d.ID]; dup {
			return fmt.Errorf("blocks.json: duplicate id %s", d.ID)
		}
		if d.Liquid && d.Solid {
			return fmt.Errorf("blocks.json: %s is both solid and liquid", d.ID)
		}
		out.Defs[d.ID] = d
	}

	ids := make([]string, 0, len(out.Defs))
	for id := range out.Defs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	// Ensure AIR exists and is palette id 0.
	if air, ok := out.Defs["AIR"]; !ok {
		return fmt.Errorf("blocks.json: missing AIR")
	} else if air.Solid {
		return fmt.Errorf("blocks.json: AIR must not be solid")
	}
	ids = append([]string{"AIR"}, filterOut(ids, "AIR")...)
	if len(ids) > 1<<16 {
		return fmt.Errorf("blocks.json: too many blocks: %d", len(ids))
	}

	out.Palette = ids
	out.Index = make(map[string]uint16, len(ids))
	for i, id := range ids {
		out.Index[id] = uint16(i)
	}
	palJSON, _ := json.Marshal(ids)
	out.PaletteDigest = sha256Hex(palJSON)
	return nil
}

func filterOut(in []string, drop string) []string {
	out := in[:0]
	for _, s := range in {
		if s != drop {
			out = append(out, s)
		}
	}
	return out
}
