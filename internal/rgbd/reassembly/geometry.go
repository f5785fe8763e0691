package reassembly

import (
	"encoding/binary"

	"github.com/banshee-data/depth.stream/internal/rgbd/framepool"
	"github.com/banshee-data/depth.stream/internal/rgbd/wire"
)

// BackProject fills positions for rows [startRow, endRow) from depth using
// the pinhole model. Both slices cover the whole frame. x and y are
// mirrored so that +x is to the viewer's right and +y is up.
func BackProject(intr wire.Intrinsics, depth []uint16, positions []float32, startRow, endRow int) {
	w := int(intr.Width)
	for y := startRow; y < endRow; y++ {
		yf := float32(y) - intr.Cy
		for x := 0; x < w; x++ {
			i := y*w + x
			z := float32(depth[i]) * intr.DepthScale
			positions[i*3] = -(float32(x) - intr.Cx) * z / intr.Fx
			positions[i*3+1] = -yf * z / intr.Fy
			positions[i*3+2] = z
		}
	}
}

// validBlock re-checks a block against the buffer geometry so that a
// mismatched decoder can never write out of bounds.
func validBlock(b *framepool.FrameBuffer, blk wire.DepthBlock) bool {
	if blk.StartRow >= blk.EndRow || int(blk.EndRow) > b.Height {
		return false
	}
	return len(blk.Samples) >= blk.Rows()*b.Width*2
}

// loadRows copies the block's samples into b and back-projects them.
func loadRows(b *framepool.FrameBuffer, intr wire.Intrinsics, blk wire.DepthBlock) {
	off := int(blk.StartRow) * b.Width
	n := blk.Rows() * b.Width
	for i := 0; i < n; i++ {
		b.Depth[off+i] = binary.LittleEndian.Uint16(blk.Samples[i*2:])
	}
	BackProject(intr, b.Depth, b.Positions, int(blk.StartRow), int(blk.EndRow))
}
