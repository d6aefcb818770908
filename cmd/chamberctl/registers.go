package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	chamber "github.com/EspecNorthAmerica/ChamberConnectLibrary-sub000"
	"github.com/EspecNorthAmerica/ChamberConnectLibrary-sub000/codec"
	"github.com/EspecNorthAmerica/ChamberConnectLibrary-sub000/watlow"
)

type registerFlags struct {
	register int
	count    int
	kind     string
	order    string
	length   int
	scale    float64
	input    bool
}

// fields lists count consecutive fields of the requested kind.
func (f *registerFlags) fields() ([]codec.Field, error) {
	if f.register < 0 || f.register > 0xffff {
		return nil, fmt.Errorf("invalid register %d", f.register)
	}
	if f.count < 1 {
		return nil, fmt.Errorf("invalid count %d", f.count)
	}
	field := codec.Field{Register: uint16(f.register), Count: f.length, Scale: f.scale, Input: f.input}
	if err := field.Kind.UnmarshalText([]byte(f.kind)); err != nil {
		return nil, err
	}
	if err := field.Order.UnmarshalText([]byte(f.order)); err != nil {
		return nil, err
	}
	last := f.register + (f.count-1)*int(field.Quantity())
	if last+int(field.Quantity())-1 > 0xffff {
		return nil, fmt.Errorf("registers %d-%d out of range", f.register, last)
	}
	fields := make([]codec.Field, f.count)
	for i := range fields {
		fields[i] = field.Indexed(i+1, field.Quantity())
	}
	return fields, nil
}

type registerValue struct {
	Register uint16   `yaml:"register"`
	Kind     string   `yaml:"kind"`
	Number   *float64 `yaml:"number,omitempty"`
	Text     *string  `yaml:"text,omitempty"`
}

func newRegistersCmd(flags *rootFlags) *cobra.Command {
	rf := &registerFlags{}
	cmd := &cobra.Command{
		Use:   "registers",
		Short: "Read Modbus registers of a Watlow controller",
		Args:  cobra.NoArgs,
	}
	fl := cmd.Flags()
	fl.IntVar(&rf.register, "register", -1, "first register")
	fl.IntVar(&rf.count, "count", 1, "number of consecutive values")
	fl.StringVar(&rf.kind, "kind", "unsigned", "unsigned, signed, long, float or string")
	fl.StringVar(&rf.order, "order", "low", "word order of long and float values: low or high")
	fl.IntVar(&rf.length, "length", 1, "registers per string value")
	fl.Float64Var(&rf.scale, "scale", 0, "divide numbers by this")
	fl.BoolVar(&rf.input, "input", false, "read input instead of holding registers")
	_ = cmd.MarkFlagRequired("register")

	cmd.RunE = flags.run(func(s *session, _ []string) error {
		fields, err := rf.fields()
		if err != nil {
			return err
		}
		var values []codec.Value
		err = s.chamber.Do(s.ctx, func(ctx context.Context, ops chamber.Ops) error {
			f4t, ok := ops.(*watlow.F4T)
			if !ok {
				return fmt.Errorf("registers: %w", chamber.ErrNotSupported)
			}
			values, err = f4t.ReadItems(ctx, fields)
			return err
		})
		if err != nil {
			return err
		}
		out := make([]registerValue, len(values))
		for i := range values {
			out[i] = registerValue{Register: fields[i].Register, Kind: fields[i].Kind.String()}
			if fields[i].Kind == codec.String {
				out[i].Text = &values[i].Text
			} else {
				out[i].Number = &values[i].Number
			}
		}
		return s.print(out)
	})
	return cmd
}
