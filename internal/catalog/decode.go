package catalog

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
)

// Decode copies a step's `with` map into out, a pointer to a struct tagged
// with `mapstructure`. Durations accept strings such as "150ms" and
// comma-separated strings decode into slices. Unknown keys are errors.
func Decode(with map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := dec.Decode(with); err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}
	return nil
}
