package store

import (
	"fmt"

	"voxelhistory.ai/internal/sim/catalogs"
	"voxelhistory.ai/internal/sim/changetracker"
)

// Ignore flags for GroundContact. They make the corresponding blocks count
// as not supporting, so the search continues below them.
const (
	IgnoreLiquid uint64 = 1 << iota
	IgnoreClimbable
	IgnorePartial
)

const (
	// probeMargin matches the tracker's downward search margin.
	probeMargin = 0.5626
	// restEpsilon is how far a box may sink into a supporting top.
	restEpsilon = 0.001
)

// Cell is the state recorded for one block position.
type Cell struct {
	Block uint16 `json:"block"`
}

// GenFromCatalog fills the block ids of a generator from the catalog.
func GenFromCatalog(blocks *catalogs.BlockCatalog) WorldGen {
	return WorldGen{
		OrePermille: 12,
		Air:         blocks.Index["AIR"],
		Bedrock:     blocks.Index["BEDROCK"],
		Stone:       blocks.Index["STONE"],
		Dirt:        blocks.Index["DIRT"],
		Grass:       blocks.Index["GRASS"],
		CoalOre:     blocks.Index["COAL_ORE"],
		IronOre:     blocks.Index["IRON_ORE"],
	}
}

// Provider exposes one chunk store to the change tracker. It is bound to a
// single partition and reports any attempt to read it for another one.
type Provider struct {
	store  *ChunkStore
	blocks *catalogs.BlockCatalog
	world  changetracker.PartitionID

	bound  bool
	misuse error
}

func NewProvider(world changetracker.PartitionID, s *ChunkStore, blocks *catalogs.BlockCatalog) *Provider {
	return &Provider{store: s, blocks: blocks, world: world}
}

func (p *Provider) Store() *ChunkStore { return p.store }

func (p *Provider) CurrentState(x, y, z int) changetracker.CellState {
	return Cell{Block: p.store.GetBlock(x, y, z)}
}

func (p *Provider) MaxHeight() int { return p.store.Height() - 1 }

func (p *Provider) Bind(id changetracker.PartitionID) {
	if id != p.world {
		p.misuse = fmt.Errorf("store: provider for %s bound to %s", p.world, id)
	} else if p.bound {
		p.misuse = fmt.Errorf("store: provider for %s bound twice", p.world)
	}
	p.bound = true
}

func (p *Provider) Release() { p.bound = false }

// Err returns and clears the last binding error.
func (p *Provider) Err() error {
	err := p.misuse
	p.misuse = nil
	return err
}

func (p *Provider) def(s changetracker.CellState) catalogs.BlockDef {
	c, ok := s.(Cell)
	if !ok {
		return p.blocks.Def(0)
	}
	return p.blocks.Def(c.Block)
}

// GroundContact is the real time ground test for one cell and the cell above
// it. Cells that cannot support anything answer MAYBE so the caller looks
// further down. A supporting cell answers YES when the box rests on its top
// within the probe margin and the cell above leaves room for the box.
func (p *Provider) GroundContact(box changetracker.Box, ignoreFlags uint64, x, y, z int, node, nodeAbove changetracker.CellState) changetracker.GroundResult {
	d := p.def(node)
	fy := float64(y)
	switch {
	case d.Liquid:
		if ignoreFlags&IgnoreLiquid != 0 {
			return changetracker.GroundMaybe
		}
		if box.MinY-probeMargin < fy+1 && box.MaxY > fy {
			return changetracker.GroundYes
		}
		return changetracker.GroundMaybe
	case d.Climbable:
		if ignoreFlags&IgnoreClimbable != 0 {
			return changetracker.GroundMaybe
		}
		if box.MinY < fy+1 && box.MaxY > fy {
			return changetracker.GroundYes
		}
		return changetracker.GroundMaybe
	case !d.Solid:
		return changetracker.GroundMaybe
	case d.Partial() && ignoreFlags&IgnorePartial != 0:
		return changetracker.GroundMaybe
	}

	top := fy + d.TopY()
	if top < box.MinY-probeMargin || top > box.MinY+restEpsilon {
		return changetracker.GroundNo
	}
	above := p.def(nodeAbove)
	if above.Solid && !above.Partial() && top <= fy+1 {
		aboveTop := fy + 1 + above.TopY()
		if box.MinY < aboveTop && box.MaxY > fy+1 {
			return changetracker.GroundNo
		}
	}
	return changetracker.GroundYes
}
