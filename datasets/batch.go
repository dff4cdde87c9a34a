package datasets

import (
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"

	"github.com/Noofbiz/cholec80/records"
)

// Record is one labeled frame with its pixels decoded.
type Record struct {
	Frame       Frame
	VideoID     string
	FrameID     int64
	TotalFrames int64
	Instruments [records.NumInstruments]int64
	Phase       int64
}

// Batch is an ordered group of records. In VIDEO and INFER modes all records
// come from one video, in frame order, and EndFlag marks the batch holding
// the video's last frame. In FRAME mode records may come from several videos
// and EndFlag is always false.
type Batch struct {
	Records []Record
	EndFlag bool
}

// Len returns the number of records in the batch.
func (b *Batch) Len() int { return len(b.Records) }

// VideoIDs returns the video id of each record.
func (b *Batch) VideoIDs() []string {
	ids := make([]string, len(b.Records))
	for i, r := range b.Records {
		ids[i] = r.VideoID
	}
	return ids
}

// FrameIDs returns the frame id of each record.
func (b *Batch) FrameIDs() []int64 {
	ids := make([]int64, len(b.Records))
	for i, r := range b.Records {
		ids[i] = r.FrameID
	}
	return ids
}

// isVideoEnd reports whether recs contain the final frame of their video.
// Frame ids are zero based, so the last frame of a video with n frames is
// n-1; n is read from the last record of the batch.
func isVideoEnd(recs []Record) bool {
	if len(recs) == 0 {
		return false
	}
	maxFrame := recs[0].FrameID
	for _, r := range recs[1:] {
		maxFrame = max(maxFrame, r.FrameID)
	}
	return maxFrame == recs[len(recs)-1].TotalFrames-1
}

// parseRecords decodes a group of serialized examples, frames included.
func parseRecords(raw [][]byte) ([]Record, error) {
	recs := make([]Record, len(raw))
	for i, b := range raw {
		ex, err := records.Unmarshal(b)
		if err != nil {
			return nil, err
		}
		frame, err := DecodeFrame(ex.Frame)
		if err != nil {
			return nil, errors.Wrapf(err, "video %s frame %d", ex.VideoID, ex.FrameID)
		}
		recs[i] = Record{
			Frame:       frame,
			VideoID:     ex.VideoID,
			FrameID:     ex.FrameID,
			TotalFrames: ex.TotalFrames,
			Instruments: ex.Instruments,
			Phase:       ex.Phase,
		}
	}
	return recs, nil
}

// ToGomlxTensors converts the batch into GoMLX tensors:
//   - frames: uint8 [N, 480, 854, 3]
//   - phases: int64 [N]
//   - instruments: int64 [N, 7]
func (b *Batch) ToGomlxTensors() (frames, phases, instruments *tensors.Tensor, err error) {
	n := len(b.Records)
	if n == 0 {
		return nil, nil, nil, errors.New("cannot convert an empty batch to tensors")
	}
	const frameSize = FrameHeight * FrameWidth * FrameChannels
	flat := make([]uint8, 0, n*frameSize)
	ph := make([]int64, n)
	inst := make([][]int64, n)
	for i, r := range b.Records {
		if len(r.Frame.Pix) != frameSize {
			return nil, nil, nil, errors.Wrapf(ErrFrameShape, "record %d has %d bytes of pixels", i, len(r.Frame.Pix))
		}
		flat = append(flat, r.Frame.Pix...)
		ph[i] = r.Phase
		inst[i] = append([]int64(nil), r.Instruments[:]...)
	}
	frames = tensors.FromFlatDataAndDimensions(flat, n, FrameHeight, FrameWidth, FrameChannels)
	phases = tensors.FromAnyValue(ph)
	instruments = tensors.FromAnyValue(inst)
	return frames, phases, instruments, nil
}
