package storage

import (
	"math"
	"sort"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"neurodecode/internal/model"
	"neurodecode/internal/ndarray"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

// Archive message fields. Numbers are never reused; readers skip fields they
// do not know.
const (
	fieldSchemaVersion protowire.Number = 1
	fieldCodecVersion  protowire.Number = 2
	fieldRunID         protowire.Number = 3
	fieldScope         protowire.Number = 4
	fieldDataID        protowire.Number = 5
	fieldMode          protowire.Number = 6
	fieldFold          protowire.Number = 7
	fieldSummary       protowire.Number = 8
	fieldStack         protowire.Number = 9
	fieldFreqs         protowire.Number = 10
	fieldConfusionRow  protowire.Number = 11
	fieldSpecs         protowire.Number = 12
	fieldMeta          protowire.Number = 13
	fieldLog           protowire.Number = 14
)

// EncodeResult serializes an aggregate. Unset versions are stamped with the
// current ones.
func EncodeResult(r model.AggregateResult) ([]byte, error) {
	if r.SchemaVersion == 0 {
		r.SchemaVersion = CurrentSchemaVersion
	}
	if r.CodecVersion == 0 {
		r.CodecVersion = CurrentCodecVersion
	}
	var b []byte
	b = appendVarint(b, fieldSchemaVersion, uint64(r.SchemaVersion))
	b = appendVarint(b, fieldCodecVersion, uint64(r.CodecVersion))
	b = appendString(b, fieldRunID, r.RunID)
	b = appendString(b, fieldScope, r.Scope)
	b = appendString(b, fieldDataID, r.DataID)
	b = appendString(b, fieldMode, string(r.Mode))
	for _, fold := range r.Folds {
		b = appendMessage(b, fieldFold, encodeFold(fold))
	}
	b = appendMessage(b, fieldSummary, encodeSummary(r.Summary))

	names := make([]string, 0, len(r.Stacks))
	for name := range r.Stacks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		stack := r.Stacks[name]
		if err := stack.Validate(); err != nil {
			return nil, errors.Wrapf(err, "stack %s", name)
		}
		var sb []byte
		sb = appendString(sb, 1, name)
		sb = appendPackedInts(sb, 2, stack.Shape[:])
		sb = appendPackedDoubles(sb, 3, stack.Data)
		b = appendMessage(b, fieldStack, sb)
	}
	if len(r.Freqs) > 0 {
		b = appendPackedDoubles(b, fieldFreqs, r.Freqs)
	}
	for _, row := range r.Confusion {
		b = appendMessage(b, fieldConfusionRow, appendPackedDoubles(nil, 1, row))
	}

	var err error
	if b, err = appendStruct(b, fieldSpecs, r.Specs); err != nil {
		return nil, errors.Wrap(err, "encode specs")
	}
	if b, err = appendStruct(b, fieldMeta, r.Meta); err != nil {
		return nil, errors.Wrap(err, "encode meta")
	}
	if b, err = appendStruct(b, fieldLog, r.Log); err != nil {
		return nil, errors.Wrap(err, "encode log")
	}
	return b, nil
}

func DecodeResult(data []byte) (model.AggregateResult, error) {
	var r model.AggregateResult
	err := walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldSchemaVersion:
			v, n := consumeVarint(typ, b)
			r.SchemaVersion = int(v)
			return n, nil
		case fieldCodecVersion:
			v, n := consumeVarint(typ, b)
			r.CodecVersion = int(v)
			return n, nil
		case fieldRunID:
			return consumeString(typ, b, &r.RunID)
		case fieldScope:
			return consumeString(typ, b, &r.Scope)
		case fieldDataID:
			return consumeString(typ, b, &r.DataID)
		case fieldMode:
			var mode string
			n, err := consumeString(typ, b, &mode)
			r.Mode = model.Mode(mode)
			return n, err
		case fieldFold:
			msg, n := consumeBytes(typ, b)
			if n <= 0 {
				return n, nil
			}
			fold, err := decodeFold(msg)
			if err != nil {
				return 0, err
			}
			r.Folds = append(r.Folds, fold)
			return n, nil
		case fieldSummary:
			msg, n := consumeBytes(typ, b)
			if n <= 0 {
				return n, nil
			}
			summary, err := decodeSummary(msg)
			r.Summary = summary
			return n, err
		case fieldStack:
			msg, n := consumeBytes(typ, b)
			if n <= 0 {
				return n, nil
			}
			name, stack, err := decodeStack(msg)
			if err != nil {
				return 0, err
			}
			if r.Stacks == nil {
				r.Stacks = make(map[string]*ndarray.Array3)
			}
			r.Stacks[name] = stack
			return n, nil
		case fieldFreqs:
			values, n, err := consumePackedDoubles(typ, b)
			r.Freqs = values
			return n, err
		case fieldConfusionRow:
			msg, n := consumeBytes(typ, b)
			if n <= 0 {
				return n, nil
			}
			row, err := decodePackedField(msg)
			r.Confusion = append(r.Confusion, row)
			return n, err
		case fieldSpecs:
			return consumeStruct(typ, b, &r.Specs)
		case fieldMeta:
			return consumeStruct(typ, b, &r.Meta)
		case fieldLog:
			return consumeStruct(typ, b, &r.Log)
		}
		return 0, nil
	})
	if err != nil {
		return model.AggregateResult{}, errors.Wrap(err, "decode result")
	}
	if err := checkVersion(r.VersionedRecord); err != nil {
		return model.AggregateResult{}, err
	}
	return r, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return errors.Wrapf(ErrVersionMismatch, "schema=%d codec=%d", v.SchemaVersion, v.CodecVersion)
	}
	return nil
}

func encodeFold(f model.FoldResult) []byte {
	var b []byte
	b = appendSint(b, 1, f.Fold)
	b = appendSint(b, 2, f.Epochs)
	b = appendSint(b, 3, f.StoppedAt)
	b = appendDouble(b, 4, f.Loss)
	b = appendDouble(b, 5, f.Metric)
	b = appendDouble(b, 6, f.CVLoss)
	b = appendDouble(b, 7, f.CVMetric)
	for _, row := range f.Confusion {
		b = appendMessage(b, 8, appendPackedDoubles(nil, 1, row))
	}
	if rs := f.Regression; rs != nil {
		var rb []byte
		rb = appendDouble(rb, 1, rs.CC)
		rb = appendDouble(rb, 2, rs.R2)
		rb = appendDouble(rb, 3, rs.Slope)
		rb = appendDouble(rb, 4, rs.Bias)
		rb = appendDouble(rb, 5, rs.PVE)
		b = appendMessage(b, 9, rb)
	}
	modes := make([]string, 0, len(f.TopComponents))
	for mode := range f.TopComponents {
		modes = append(modes, mode)
	}
	sort.Strings(modes)
	for _, mode := range modes {
		var tb []byte
		tb = appendString(tb, 1, mode)
		for _, unit := range f.TopComponents[mode] {
			tb = appendMessage(tb, 2, appendPackedInts(nil, 1, unit))
		}
		b = appendMessage(b, 10, tb)
	}
	return b
}

func decodeFold(data []byte) (model.FoldResult, error) {
	var f model.FoldResult
	err := walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeSint(typ, b, &f.Fold)
		case 2:
			return consumeSint(typ, b, &f.Epochs)
		case 3:
			return consumeSint(typ, b, &f.StoppedAt)
		case 4:
			return consumeDouble(typ, b, &f.Loss)
		case 5:
			return consumeDouble(typ, b, &f.Metric)
		case 6:
			return consumeDouble(typ, b, &f.CVLoss)
		case 7:
			return consumeDouble(typ, b, &f.CVMetric)
		case 8:
			msg, n := consumeBytes(typ, b)
			if n <= 0 {
				return n, nil
			}
			row, err := decodePackedField(msg)
			f.Confusion = append(f.Confusion, row)
			return n, err
		case 9:
			msg, n := consumeBytes(typ, b)
			if n <= 0 {
				return n, nil
			}
			var rs model.RegressionStats
			err := walk(msg, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
				switch num {
				case 1:
					return consumeDouble(typ, b, &rs.CC)
				case 2:
					return consumeDouble(typ, b, &rs.R2)
				case 3:
					return consumeDouble(typ, b, &rs.Slope)
				case 4:
					return consumeDouble(typ, b, &rs.Bias)
				case 5:
					return consumeDouble(typ, b, &rs.PVE)
				}
				return 0, nil
			})
			f.Regression = &rs
			return n, err
		case 10:
			msg, n := consumeBytes(typ, b)
			if n <= 0 {
				return n, nil
			}
			var mode string
			var units [][]int
			err := walk(msg, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
				switch num {
				case 1:
					return consumeString(typ, b, &mode)
				case 2:
					unitMsg, n := consumeBytes(typ, b)
					if n <= 0 {
						return n, nil
					}
					var unit []int
					err := walk(unitMsg, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
						if num != 1 {
							return 0, nil
						}
						values, n, err := consumePackedInts(typ, b)
						unit = values
						return n, err
					})
					if unit == nil {
						unit = []int{}
					}
					units = append(units, unit)
					return n, err
				}
				return 0, nil
			})
			if f.TopComponents == nil {
				f.TopComponents = make(map[string][][]int)
			}
			f.TopComponents[mode] = units
			return n, err
		}
		return 0, nil
	})
	return f, err
}

func encodeSummary(s model.Summary) []byte {
	var b []byte
	b = appendDouble(b, 1, s.LossMean)
	b = appendDouble(b, 2, s.LossStd)
	b = appendDouble(b, 3, s.MetricMean)
	b = appendDouble(b, 4, s.MetricStd)
	b = appendDouble(b, 5, s.CVLossMean)
	b = appendDouble(b, 6, s.CVLossStd)
	b = appendDouble(b, 7, s.CVMetricMean)
	b = appendDouble(b, 8, s.CVMetricStd)
	keys := make([]string, 0, len(s.Regression))
	for key := range s.Regression {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		var eb []byte
		eb = appendString(eb, 1, key)
		eb = appendDouble(eb, 2, s.Regression[key])
		b = appendMessage(b, 9, eb)
	}
	return b
}

func decodeSummary(data []byte) (model.Summary, error) {
	var s model.Summary
	targets := []*float64{&s.LossMean, &s.LossStd, &s.MetricMean, &s.MetricStd, &s.CVLossMean, &s.CVLossStd, &s.CVMetricMean, &s.CVMetricStd}
	err := walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num >= 1 && num <= 8 {
			return consumeDouble(typ, b, targets[num-1])
		}
		if num != 9 {
			return 0, nil
		}
		msg, n := consumeBytes(typ, b)
		if n <= 0 {
			return n, nil
		}
		var key string
		var value float64
		err := walk(msg, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
			switch num {
			case 1:
				return consumeString(typ, b, &key)
			case 2:
				return consumeDouble(typ, b, &value)
			}
			return 0, nil
		})
		if s.Regression == nil {
			s.Regression = make(map[string]float64)
		}
		s.Regression[key] = value
		return n, err
	})
	return s, err
}

func decodeStack(data []byte) (string, *ndarray.Array3, error) {
	var name string
	var shape []int
	var values []float64
	err := walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeString(typ, b, &name)
		case 2:
			v, n, err := consumePackedInts(typ, b)
			shape = v
			return n, err
		case 3:
			v, n, err := consumePackedDoubles(typ, b)
			values = v
			return n, err
		}
		return 0, nil
	})
	if err != nil {
		return "", nil, err
	}
	if len(shape) != 3 {
		return "", nil, errors.Errorf("stack %s: expected 3 dims, got %v", name, shape)
	}
	if values == nil {
		values = []float64{}
	}
	stack := &ndarray.Array3{Shape: [3]int{shape[0], shape[1], shape[2]}, Data: values}
	if err := stack.Validate(); err != nil {
		return "", nil, errors.Wrapf(err, "stack %s", name)
	}
	return name, stack, nil
}

func decodePackedField(msg []byte) ([]float64, error) {
	out := []float64{}
	err := walk(msg, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != 1 {
			return 0, nil
		}
		values, n, err := consumePackedDoubles(typ, b)
		if values != nil {
			out = values
		}
		return n, err
	})
	return out, err
}

// walk visits every field of a message. A handler returning 0 consumed bytes
// leaves the field to be skipped.
func walk(data []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]
		m, err := fn(num, typ, data)
		if err != nil {
			return err
		}
		if m == 0 {
			m = protowire.ConsumeFieldValue(num, typ, data)
		}
		if m < 0 {
			return protowire.ParseError(m)
		}
		data = data[m:]
	}
	return nil
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendSint(b []byte, num protowire.Number, v int) []byte {
	return appendVarint(b, num, protowire.EncodeZigZag(int64(v)))
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func appendPackedDoubles(b []byte, num protowire.Number, values []float64) []byte {
	packed := make([]byte, 0, 8*len(values))
	for _, v := range values {
		packed = protowire.AppendFixed64(packed, math.Float64bits(v))
	}
	return appendMessage(b, num, packed)
}

func appendPackedInts(b []byte, num protowire.Number, values []int) []byte {
	var packed []byte
	for _, v := range values {
		packed = protowire.AppendVarint(packed, protowire.EncodeZigZag(int64(v)))
	}
	return appendMessage(b, num, packed)
}

func appendStruct(b []byte, num protowire.Number, values map[string]any) ([]byte, error) {
	if values == nil {
		return b, nil
	}
	s, err := structpb.NewStruct(values)
	if err != nil {
		return nil, err
	}
	msg, err := proto.MarshalOptions{Deterministic: true}.Marshal(s)
	if err != nil {
		return nil, err
	}
	return appendMessage(b, num, msg), nil
}

func consumeVarint(typ protowire.Type, b []byte) (uint64, int) {
	if typ != protowire.VarintType {
		return 0, 0
	}
	return protowire.ConsumeVarint(b)
}

func consumeSint(typ protowire.Type, b []byte, dst *int) (int, error) {
	v, n := consumeVarint(typ, b)
	if n > 0 {
		*dst = int(protowire.DecodeZigZag(v))
	}
	return n, nil
}

func consumeDouble(typ protowire.Type, b []byte, dst *float64) (int, error) {
	if typ != protowire.Fixed64Type {
		return 0, nil
	}
	v, n := protowire.ConsumeFixed64(b)
	if n > 0 {
		*dst = math.Float64frombits(v)
	}
	return n, nil
}

func consumeBytes(typ protowire.Type, b []byte) ([]byte, int) {
	if typ != protowire.BytesType {
		return nil, 0
	}
	return protowire.ConsumeBytes(b)
}

func consumeString(typ protowire.Type, b []byte, dst *string) (int, error) {
	v, n := consumeBytes(typ, b)
	if n > 0 {
		*dst = string(v)
	}
	return n, nil
}

func consumePackedDoubles(typ protowire.Type, b []byte) ([]float64, int, error) {
	packed, n := consumeBytes(typ, b)
	if n <= 0 {
		return nil, n, nil
	}
	if len(packed)%8 != 0 {
		return nil, 0, errors.Errorf("packed doubles: %d bytes", len(packed))
	}
	out := make([]float64, 0, len(packed)/8)
	for len(packed) > 0 {
		v, m := protowire.ConsumeFixed64(packed)
		if m < 0 {
			return nil, 0, protowire.ParseError(m)
		}
		out = append(out, math.Float64frombits(v))
		packed = packed[m:]
	}
	return out, n, nil
}

func consumePackedInts(typ protowire.Type, b []byte) ([]int, int, error) {
	packed, n := consumeBytes(typ, b)
	if n <= 0 {
		return nil, n, nil
	}
	out := []int{}
	for len(packed) > 0 {
		v, m := protowire.ConsumeVarint(packed)
		if m < 0 {
			return nil, 0, protowire.ParseError(m)
		}
		out = append(out, int(protowire.DecodeZigZag(v)))
		packed = packed[m:]
	}
	return out, n, nil
}

func consumeStruct(typ protowire.Type, b []byte, dst *map[string]any) (int, error) {
	msg, n := consumeBytes(typ, b)
	if n <= 0 {
		return n, nil
	}
	var s structpb.Struct
	if err := proto.Unmarshal(msg, &s); err != nil {
		return 0, err
	}
	*dst = s.AsMap()
	return n, nil
}
