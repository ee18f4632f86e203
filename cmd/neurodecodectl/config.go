package main

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"

	"neurodecode/pkg/neurodecode"
)

// applyConfig overlays a JSON run config onto req. Training keys live at the
// top level; "dataset" and "specs" hold the data and model sections.
func applyConfig(path string, req *neurodecode.RunRequest) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "load config")
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.Wrap(err, "load config")
	}

	if v, ok := asString(raw["mode"]); ok {
		req.Mode = v
	}
	if v, ok := asInt(raw["epochs"]); ok {
		req.Epochs = v
	}
	if v, ok := asInt(raw["steps_per_epoch"]); ok {
		req.StepsPerEpoch = v
	}
	if v, ok := asInt(raw["patience"]); ok {
		req.Patience = v
	}
	if v, ok := asFloat64(raw["min_delta"]); ok {
		req.MinDelta = v
	}
	if v, ok := asFloat64s(raw["class_weight"]); ok {
		req.ClassWeight = v
	}
	if v, ok := asBool(raw["collect_patterns"]); ok {
		req.Patterns = v
	}
	if v, ok := asString(raw["output"]); ok {
		req.PatternOutput = v
	}
	if v, ok := asStrings(raw["sort_modes"]); ok {
		req.SortModes = v
	}
	if v, ok := asInt(raw["n_comp"]); ok {
		req.NComp = v
	}
	if v, ok := asInt64(raw["seed"]); ok {
		req.Seed = v
	}

	if ds, ok := raw["dataset"].(map[string]any); ok {
		if v, ok := asString(ds["data_id"]); ok {
			req.DataID = v
		}
		if v, ok := asString(ds["table_path"]); ok {
			req.TablePath = v
		}
		if v, ok := asInt(ds["trials"]); ok {
			req.Trials = v
		}
		if v, ok := asInt(ds["n_seq"]); ok {
			req.NSeq = v
		}
		if v, ok := asInt(ds["n_t"]); ok {
			req.NT = v
		}
		if v, ok := asInt(ds["n_ch"]); ok {
			req.NCh = v
		}
		if v, ok := asFloat64(ds["fs"]); ok {
			req.FS = v
		}
		if v, ok := asInt(ds["classes"]); ok {
			req.Classes = v
		}
		if v, ok := asInt(ds["subjects"]); ok {
			req.Subjects = v
		}
		if v, ok := asFloat64(ds["noise"]); ok {
			req.Noise = v
		}
		if v, ok := asInt(ds["folds"]); ok {
			req.Folds = v
		}
		if v, ok := asInt(ds["train_batch"]); ok {
			req.TrainBatch = v
		}
	}

	if specs, ok := raw["specs"].(map[string]any); ok {
		if v, ok := asString(specs["scope"]); ok {
			req.Scope = v
		}
		if v, ok := asInt(specs["n_latent"]); ok {
			req.NLatent = v
		}
		if v, ok := asInt(specs["filter_length"]); ok {
			req.FilterLength = v
		}
		if v, ok := asInt(specs["pooling"]); ok {
			req.Pooling = v
		}
		if v, ok := asInt(specs["stride"]); ok {
			req.Stride = v
		}
		if v, ok := asString(specs["pool_type"]); ok {
			req.PoolType = v
		}
		if v, ok := asString(specs["padding"]); ok {
			req.Padding = v
		}
		if v, ok := asString(specs["nonlin"]); ok {
			req.Nonlin = v
		}
		if v, ok := asFloat64(specs["l1"]); ok {
			req.L1 = v
		}
		if v, ok := asFloat64(specs["l2"]); ok {
			req.L2 = v
		}
		if v, ok := asFloat64(specs["dropout"]); ok {
			req.Dropout = v
		}
		if v, ok := asFloat64(specs["learn_rate"]); ok {
			req.LearnRate = v
		}
	}
	return nil
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asBool(v any) (bool, bool) {
	b, ok := v.(bool)
	return b, ok
}

func asInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case float64:
		return int(x), true
	default:
		return 0, false
	}
}

func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case float64:
		return int64(x), true
	default:
		return 0, false
	}
}

func asFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	default:
		return 0, false
	}
}

func asFloat64s(v any) ([]float64, bool) {
	items, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]float64, 0, len(items))
	for _, item := range items {
		f, ok := asFloat64(item)
		if !ok {
			return nil, false
		}
		out = append(out, f)
	}
	return out, true
}

func asStrings(v any) ([]string, bool) {
	items, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}

// overrideFromFlags copies every explicitly set flag from values into req.
func overrideFromFlags(req *neurodecode.RunRequest, flags *pflag.FlagSet, values neurodecode.RunRequest) {
	flags.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "mode":
			req.Mode = values.Mode
		case "data-id":
			req.DataID = values.DataID
		case "table":
			req.TablePath = values.TablePath
		case "trials":
			req.Trials = values.Trials
		case "n-seq":
			req.NSeq = values.NSeq
		case "n-t":
			req.NT = values.NT
		case "n-ch":
			req.NCh = values.NCh
		case "fs":
			req.FS = values.FS
		case "classes":
			req.Classes = values.Classes
		case "subjects":
			req.Subjects = values.Subjects
		case "noise":
			req.Noise = values.Noise
		case "folds":
			req.Folds = values.Folds
		case "train-batch":
			req.TrainBatch = values.TrainBatch
		case "scope":
			req.Scope = values.Scope
		case "n-latent":
			req.NLatent = values.NLatent
		case "filter-length":
			req.FilterLength = values.FilterLength
		case "pooling":
			req.Pooling = values.Pooling
		case "stride":
			req.Stride = values.Stride
		case "pool-type":
			req.PoolType = values.PoolType
		case "padding":
			req.Padding = values.Padding
		case "nonlin":
			req.Nonlin = values.Nonlin
		case "l1":
			req.L1 = values.L1
		case "l2":
			req.L2 = values.L2
		case "dropout":
			req.Dropout = values.Dropout
		case "learn-rate":
			req.LearnRate = values.LearnRate
		case "epochs":
			req.Epochs = values.Epochs
		case "steps":
			req.StepsPerEpoch = values.StepsPerEpoch
		case "patience":
			req.Patience = values.Patience
		case "min-delta":
			req.MinDelta = values.MinDelta
		case "class-weight":
			req.ClassWeight = values.ClassWeight
		case "patterns":
			req.Patterns = values.Patterns
		case "output":
			req.PatternOutput = values.PatternOutput
		case "sort-modes":
			req.SortModes = values.SortModes
		case "n-comp":
			req.NComp = values.NComp
		case "seed":
			req.Seed = values.Seed
		}
	})
}
