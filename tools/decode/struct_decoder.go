package decode

import (
	"fmt"
	"reflect"
	"strconv"

	"github.com/mitchellh/mapstructure"
)

// Options customizes Decode behavior.
type Options struct {
	// WeaklyTypedInput enables loose decoding ("123" -> int, 1.0 -> int64).
	WeaklyTypedInput bool
}

func DefaultOptions() Options {
	return Options{WeaklyTypedInput: true}
}

// Map decodes a generic map (typically a parsed JSON body) into T using
// the `json` field tags. Unknown keys are ignored; the caller is expected
// to check Metadata.Keys when at least one recognized field is required.
func Map[T any](m map[string]any, opts ...Options) (*T, *mapstructure.Metadata, error) {
	cfg := DefaultOptions()
	if len(opts) > 0 {
		cfg = opts[0]
	}

	var out T
	var md mapstructure.Metadata
	decCfg := &mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           &out,
		Metadata:         &md,
		WeaklyTypedInput: cfg.WeaklyTypedInput,
		DecodeHook:       mapstructure.ComposeDecodeHookFunc(floatToIntHook()),
	}

	dec, err := mapstructure.NewDecoder(decCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("new decoder: %w", err)
	}
	if err := dec.Decode(m); err != nil {
		return nil, nil, fmt.Errorf("decode map: %w", err)
	}
	return &out, &md, nil
}

// floatToIntHook converts whole-valued floats (the default JSON number
// representation) into integer targets without truncation surprises.
func floatToIntHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.Float64 {
			return data, nil
		}
		switch to.Kind() {
		case reflect.Int, reflect.Int32, reflect.Int64:
			f := data.(float64)
			if f != float64(int64(f)) {
				return nil, fmt.Errorf("non-integer value %s for integer field",
					strconv.FormatFloat(f, 'g', -1, 64))
			}
			return int64(f), nil
		default:
			return data, nil
		}
	}
}
