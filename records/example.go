package records

import (
	"math"
	"sort"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// NumInstruments is the length of the per-frame instrument indicator vector.
const NumInstruments = 7

// Feature names of a Cholec80 tf.train.Example.
const (
	FeatureFrame       = "frame"
	FeatureVideoID     = "video_id"
	FeatureFrameID     = "frame_id"
	FeatureTotalFrames = "total_frames"
	FeatureInstruments = "instruments"
	FeaturePhase       = "phase"
)

var (
	// ErrMissingFeature is returned when a required feature is absent.
	ErrMissingFeature = errors.New("missing feature")

	// ErrFeatureShape is returned when a feature has the wrong kind or number
	// of values.
	ErrFeatureShape = errors.New("feature has unexpected shape")

	// ErrMalformed is returned when the protobuf wire data cannot be parsed.
	ErrMalformed = errors.New("malformed example")
)

// Example is one labeled frame as stored in a container, with the frame
// still in its encoded (PNG) form.
type Example struct {
	Frame       []byte
	VideoID     string
	FrameID     int64
	TotalFrames int64
	Instruments [NumInstruments]int64
	Phase       int64
}

// tf.train.Feature oneof field numbers.
const (
	kindNone  = 0
	kindBytes = 1
	kindFloat = 2
	kindInt64 = 3
)

type feature struct {
	kind   int
	bytes  [][]byte
	floats []float32
	ints   []int64
}

// Unmarshal decodes a serialized tf.train.Example into the Cholec80 shape.
// Every feature is required; unknown features are ignored.
func Unmarshal(b []byte) (Example, error) {
	feats, err := parseExample(b)
	if err != nil {
		return Example{}, err
	}

	var ex Example
	frame, err := bytesFeature(feats, FeatureFrame)
	if err != nil {
		return Example{}, err
	}
	ex.Frame = frame
	videoID, err := bytesFeature(feats, FeatureVideoID)
	if err != nil {
		return Example{}, err
	}
	ex.VideoID = string(videoID)

	if ex.FrameID, err = int64Feature(feats, FeatureFrameID); err != nil {
		return Example{}, err
	}
	if ex.TotalFrames, err = int64Feature(feats, FeatureTotalFrames); err != nil {
		return Example{}, err
	}
	if ex.Phase, err = int64Feature(feats, FeaturePhase); err != nil {
		return Example{}, err
	}

	inst, err := int64sFeature(feats, FeatureInstruments, NumInstruments)
	if err != nil {
		return Example{}, err
	}
	copy(ex.Instruments[:], inst)
	return ex, nil
}

// Marshal serializes ex as a tf.train.Example. Features are emitted in name
// order so the output is deterministic.
func (ex Example) Marshal() []byte {
	feats := map[string]feature{
		FeatureFrame:       {kind: kindBytes, bytes: [][]byte{ex.Frame}},
		FeatureVideoID:     {kind: kindBytes, bytes: [][]byte{[]byte(ex.VideoID)}},
		FeatureFrameID:     {kind: kindInt64, ints: []int64{ex.FrameID}},
		FeatureTotalFrames: {kind: kindInt64, ints: []int64{ex.TotalFrames}},
		FeatureInstruments: {kind: kindInt64, ints: ex.Instruments[:]},
		FeaturePhase:       {kind: kindInt64, ints: []int64{ex.Phase}},
	}
	names := make([]string, 0, len(feats))
	for name := range feats {
		names = append(names, name)
	}
	sort.Strings(names)

	var features []byte
	for _, name := range names {
		var entry []byte
		entry = protowire.AppendTag(entry, 1, protowire.BytesType)
		entry = protowire.AppendString(entry, name)
		entry = protowire.AppendTag(entry, 2, protowire.BytesType)
		entry = protowire.AppendBytes(entry, appendFeature(nil, feats[name]))

		features = protowire.AppendTag(features, 1, protowire.BytesType)
		features = protowire.AppendBytes(features, entry)
	}

	var out []byte
	out = protowire.AppendTag(out, 1, protowire.BytesType)
	out = protowire.AppendBytes(out, features)
	return out
}

func appendFeature(b []byte, f feature) []byte {
	var list []byte
	switch f.kind {
	case kindBytes:
		for _, v := range f.bytes {
			list = protowire.AppendTag(list, 1, protowire.BytesType)
			list = protowire.AppendBytes(list, v)
		}
	case kindFloat:
		var packed []byte
		for _, v := range f.floats {
			packed = protowire.AppendFixed32(packed, math.Float32bits(v))
		}
		list = protowire.AppendTag(list, 1, protowire.BytesType)
		list = protowire.AppendBytes(list, packed)
	case kindInt64:
		var packed []byte
		for _, v := range f.ints {
			packed = protowire.AppendVarint(packed, uint64(v))
		}
		list = protowire.AppendTag(list, 1, protowire.BytesType)
		list = protowire.AppendBytes(list, packed)
	default:
		return b
	}
	b = protowire.AppendTag(b, protowire.Number(f.kind), protowire.BytesType)
	return protowire.AppendBytes(b, list)
}

func bytesFeature(feats map[string]feature, name string) ([]byte, error) {
	f, ok := feats[name]
	if !ok {
		return nil, errors.Wrapf(ErrMissingFeature, "%q", name)
	}
	if f.kind != kindBytes || len(f.bytes) != 1 {
		return nil, errors.Wrapf(ErrFeatureShape, "%q: want one bytes value", name)
	}
	return f.bytes[0], nil
}

func int64Feature(feats map[string]feature, name string) (int64, error) {
	v, err := int64sFeature(feats, name, 1)
	if err != nil {
		return 0, err
	}
	return v[0], nil
}

func int64sFeature(feats map[string]feature, name string, n int) ([]int64, error) {
	f, ok := feats[name]
	if !ok {
		return nil, errors.Wrapf(ErrMissingFeature, "%q", name)
	}
	if f.kind != kindInt64 || len(f.ints) != n {
		return nil, errors.Wrapf(ErrFeatureShape, "%q: want %d int64 values, got %d", name, n, len(f.ints))
	}
	return f.ints, nil
}

// parseExample walks Example -> Features -> map<string, Feature>.
func parseExample(b []byte) (map[string]feature, error) {
	feats := make(map[string]feature)
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		if num != 1 || typ != protowire.BytesType {
			return nil
		}
		return walkFields(v, func(num protowire.Number, typ protowire.Type, entry []byte) error {
			if num != 1 || typ != protowire.BytesType {
				return nil
			}
			name, f, err := parseEntry(entry)
			if err != nil {
				return err
			}
			feats[name] = f
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return feats, nil
}

func parseEntry(b []byte) (string, feature, error) {
	var (
		name string
		f    feature
	)
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case 1:
			name = string(v)
		case 2:
			var err error
			f, err = parseFeature(v)
			return err
		}
		return nil
	})
	return name, f, err
}

func parseFeature(b []byte) (feature, error) {
	var f feature
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case kindBytes:
			f = feature{kind: kindBytes}
			return walkFields(v, func(num protowire.Number, typ protowire.Type, item []byte) error {
				if num == 1 && typ == protowire.BytesType {
					f.bytes = append(f.bytes, item)
				}
				return nil
			})
		case kindFloat:
			f = feature{kind: kindFloat}
			return walkFloats(v, &f.floats)
		case kindInt64:
			f = feature{kind: kindInt64}
			return walkInt64s(v, &f.ints)
		}
		return nil
	})
	return f, err
}

// walkFields calls fn for every field of a message. For length-delimited
// fields v is the payload; for scalar fields v is the raw encoded value.
func walkFields(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return errors.Wrap(ErrMalformed, protowire.ParseError(n).Error())
		}
		b = b[n:]
		var v []byte
		if typ == protowire.BytesType {
			payload, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return errors.Wrap(ErrMalformed, protowire.ParseError(m).Error())
			}
			v, n = payload, m
		} else {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return errors.Wrap(ErrMalformed, protowire.ParseError(n).Error())
			}
			v = b[:n]
		}
		if err := fn(num, typ, v); err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

// walkInt64s accepts both packed and unpacked encodings of field 1.
func walkInt64s(b []byte, out *[]int64) error {
	return walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		if num != 1 {
			return nil
		}
		switch typ {
		case protowire.BytesType:
			for len(v) > 0 {
				x, n := protowire.ConsumeVarint(v)
				if n < 0 {
					return errors.Wrap(ErrMalformed, protowire.ParseError(n).Error())
				}
				*out = append(*out, int64(x))
				v = v[n:]
			}
		case protowire.VarintType:
			x, n := protowire.ConsumeVarint(v)
			if n < 0 {
				return errors.Wrap(ErrMalformed, protowire.ParseError(n).Error())
			}
			*out = append(*out, int64(x))
		}
		return nil
	})
}

// walkFloats accepts both packed and unpacked encodings of field 1.
func walkFloats(b []byte, out *[]float32) error {
	return walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		if num != 1 {
			return nil
		}
		switch typ {
		case protowire.BytesType:
			for len(v) > 0 {
				x, n := protowire.ConsumeFixed32(v)
				if n < 0 {
					return errors.Wrap(ErrMalformed, protowire.ParseError(n).Error())
				}
				*out = append(*out, math.Float32frombits(x))
				v = v[n:]
			}
		case protowire.Fixed32Type:
			x, n := protowire.ConsumeFixed32(v)
			if n < 0 {
				return errors.Wrap(ErrMalformed, protowire.ParseError(n).Error())
			}
			*out = append(*out, math.Float32frombits(x))
		}
		return nil
	})
}
