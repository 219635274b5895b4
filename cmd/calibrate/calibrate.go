// Package calibrate provides the calibrate command
package calibrate

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/magtest/internal/app"
	"github.com/tphakala/magtest/internal/conf"
	"github.com/tphakala/magtest/internal/errors"
	"github.com/tphakala/magtest/internal/model"
)

var calibrationTypes = []model.CalibrationType{
	model.CalibrationStandardBlock,
	model.CalibrationReferenceSignal,
	model.CalibrationSystemCheck,
	model.CalibrationCustom,
}

type options struct {
	kind         string
	block        string
	operator     string
	expiryDays   int
	coefficients map[string]string
	samples      int
	show         bool
	anyType      bool
}

// Command creates the calibrate command
func Command(settings *conf.Settings) *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "calibrate",
		Short: "Record or show an instrument calibration",
		Long:  "Calibrate stores a new active calibration of the given type, replacing the previous active one. With --show it prints the latest active calibration instead.",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.anyType = !cmd.Flags().Changed("type")
			return run(cmd.Context(), settings, &opts)
		},
	}
	cmd.Flags().StringVarP(&opts.kind, "type", "t", string(model.CalibrationStandardBlock), "Calibration type: standard_block, reference_signal, system_check, custom")
	cmd.Flags().StringVar(&opts.block, "block", "", "Standard block identifier")
	cmd.Flags().StringVar(&opts.operator, "operator", viper.GetString("main.operatorid"), "Operator ID")
	cmd.Flags().IntVar(&opts.expiryDays, "expiry-days", 0, "Days until the calibration expires, 0 for never")
	cmd.Flags().StringToStringVar(&opts.coefficients, "coefficient", nil, "Calibration coefficient as name=value, repeatable")
	cmd.Flags().IntVar(&opts.samples, "samples", 0, "Capture this many reference samples from the signal source")
	cmd.Flags().BoolVar(&opts.show, "show", false, "Show the latest active calibration")
	return cmd
}

// ParseType validates a calibration type name
func ParseType(s string) (model.CalibrationType, error) {
	t := model.CalibrationType(s)
	if !slices.Contains(calibrationTypes, t) {
		return "", errors.Newf("unknown calibration type %q", s).
			Component("cli").
			Category(errors.CategoryValidation).
			Build()
	}
	return t, nil
}

// ParseCoefficients converts name=value pairs to numbers
func ParseCoefficients(in map[string]string) (map[string]float64, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make(map[string]float64, len(in))
	for name, raw := range in {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, errors.Newf("coefficient %s: %q is not a number", name, raw).
				Component("cli").
				Category(errors.CategoryValidation).
				Build()
		}
		out[name] = v
	}
	return out, nil
}

func run(ctx context.Context, settings *conf.Settings, opts *options) error {
	t, err := ParseType(opts.kind)
	if err != nil {
		return err
	}
	if opts.show && opts.anyType {
		t = ""
	}

	a, err := app.New(ctx, settings, app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	if opts.show {
		c, err := a.Store.GetLatestCalibration(ctx, t)
		if err != nil {
			if errors.IsNotFound(err) {
				fmt.Println("No active calibration")
				return nil
			}
			return err
		}
		printCalibration(os.Stdout, c, time.Now())
		return nil
	}

	coeffs, err := ParseCoefficients(opts.coefficients)
	if err != nil {
		return err
	}
	c := &model.CalibrationData{
		OperatorID:      opts.operator,
		CalibrationType: t,
		StandardBlock:   opts.block,
		Coefficients:    coeffs,
		CalibrationDate: time.Now().UTC(),
		IsActive:        true,
	}
	if opts.expiryDays > 0 {
		expiry := c.CalibrationDate.AddDate(0, 0, opts.expiryDays)
		c.ExpiryDate = &expiry
	}
	if opts.samples > 0 {
		interval := 1.0 / float64(settings.Acquisition.SamplingRate)
		for _, s := range a.Generator.GenerateBatch(0, opts.samples, interval) {
			c.ReferenceSignal = append(c.ReferenceSignal, s.Amplitude)
		}
	}
	if err := a.Store.SaveCalibration(ctx, c); err != nil {
		return err
	}
	printCalibration(os.Stdout, c, time.Now())
	return nil
}

func printCalibration(out io.Writer, c *model.CalibrationData, now time.Time) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID:\t%s\n", c.ID)
	fmt.Fprintf(w, "Type:\t%s\n", c.CalibrationType)
	fmt.Fprintf(w, "Operator:\t%s\n", c.OperatorID)
	fmt.Fprintf(w, "Date:\t%s\n", c.CalibrationDate.Local().Format(time.DateTime))
	if c.StandardBlock != "" {
		fmt.Fprintf(w, "Block:\t%s\n", c.StandardBlock)
	}
	switch {
	case c.ExpiryDate == nil:
		fmt.Fprintln(w, "Expires:\tnever")
	case c.Expired(now):
		fmt.Fprintf(w, "Expires:\t%s (expired)\n", c.ExpiryDate.Local().Format(time.DateOnly))
	default:
		fmt.Fprintf(w, "Expires:\t%s\n", c.ExpiryDate.Local().Format(time.DateOnly))
	}
	names := make([]string, 0, len(c.Coefficients))
	for name := range c.Coefficients {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		fmt.Fprintf(w, "Coefficient %s:\t%g\n", name, c.Coefficients[name])
	}
	if len(c.ReferenceSignal) > 0 {
		fmt.Fprintf(w, "Reference samples:\t%d\n", len(c.ReferenceSignal))
	}
	_ = w.Flush()
}
