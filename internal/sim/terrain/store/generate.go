package store

import "voxelhistory.ai/internal/sim/logic/mathx"

func (s *ChunkStore) GenerateChunk(ch *Chunk) {
	g := s.Gen
	ore := uint64(g.OrePermille)
	if g.Air != 0 {
		for i := range ch.Blocks {
			ch.Blocks[i] = g.Air
		}
	}
	for y := 0; y < ch.Height && y < g.GroundLevel; y++ {
		for z := 0; z < ChunkSize; z++ {
			for x := 0; x < ChunkSize; x++ {
				wx := ch.CX*ChunkSize + x
				wz := ch.CZ*ChunkSize + z

				var b uint16
				switch {
				case y == 0:
					b = g.Bedrock
				case y == g.GroundLevel-1:
					b = g.Grass
				case y >= g.GroundLevel-4:
					b = g.Dirt
				default:
					b = g.Stone
					if ore > 0 {
						roll := mathx.Hash3(g.Seed, wx, y, wz) % 1000
						switch {
						case roll < ore/3:
							b = g.IronOre
						case roll < ore:
							b = g.CoalOre
						}
					}
				}
				ch.Blocks[ch.index(x, y, z)] = b
			}
		}
	}
}
