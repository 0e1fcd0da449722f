/*
Copyright © 2024 the tfgen authors.
This file is part of tfgen.

tfgen is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

tfgen is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with tfgen.  If not, see <http://www.gnu.org/licenses/>.
*/

package tfgenutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lnashier/viper"
	"github.com/spatialmodel/tfgen"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Cfg holds configuration information.
var Cfg *viper.Viper

var options []struct {
	name, usage, shorthand string
	defaultVal             interface{}
	flagsets               []*pflag.FlagSet
}

func init() {
	static := tfgen.DefaultStaticConfig()
	sweepFlags := func() []*pflag.FlagSet { return []*pflag.FlagSet{sweepCmd.Flags()} }
	gridFlags := func() []*pflag.FlagSet { return []*pflag.FlagSet{sweepCmd.Flags(), binsCmd.Flags()} }

	// Options are the configuration options available to tfgen.
	options = []struct {
		name, usage, shorthand string
		defaultVal             interface{}
		flagsets               []*pflag.FlagSet
	}{
		{
			name: "config",
			usage: `
              config specifies the configuration file location.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "Grid.Ionization",
			usage: `
              Grid.Ionization is the list of hydrogen ionization fractions xH
              to sweep. Helium is assumed to have the same ionization fraction.
              On the command line it is given as a JSON list.`,
			defaultVal: []float64{1e-5, 1e-4, 1e-3, 1e-2, 0.1, 0.3, 0.5, 0.7, 0.9, 0.99, 0.999, 0.9999},
			flagsets:   sweepFlags(),
		},
		{
			name: "Grid.Density",
			usage: `
              Grid.Density is the list of baryon density multipliers nBs, relative
              to the cosmological mean, to sweep.`,
			defaultVal: []float64{1e-4, 1e-3, 1e-2, 0.1, 0.3, 1, 3, 10, 30, 100},
			flagsets:   sweepFlags(),
		},
		{
			name: "Grid.Redshift",
			usage: `
              Grid.Redshift is the list of 1+z values to sweep.`,
			defaultVal: []float64{5, 7, 10, 15, 20, 25, 30, 35, 40, 45, 50},
			flagsets:   sweepFlags(),
		},
		{
			name: "Bins.Photon.Count",
			usage: `
              Bins.Photon.Count is the number of photon energy bins.`,
			defaultVal: tfgen.DefaultNumBins,
			flagsets:   gridFlags(),
		},
		{
			name: "Bins.Photon.Low",
			usage: `
              Bins.Photon.Low is the lower edge of the photon energy grid [eV].`,
			defaultVal: tfgen.DefaultBinLow,
			flagsets:   gridFlags(),
		},
		{
			name: "Bins.Photon.High",
			usage: `
              Bins.Photon.High is the upper edge of the photon energy grid [eV].`,
			defaultVal: tfgen.DefaultBinHigh,
			flagsets:   gridFlags(),
		},
		{
			name: "Bins.Electron.Count",
			usage: `
              Bins.Electron.Count is the number of electron energy bins.`,
			defaultVal: tfgen.DefaultNumBins,
			flagsets:   gridFlags(),
		},
		{
			name: "Bins.Electron.Low",
			usage: `
              Bins.Electron.Low is the lower edge of the electron kinetic energy
              grid [eV]. Electron bins are reported as total energies, i.e. offset
              by the electron rest mass.`,
			defaultVal: tfgen.DefaultBinLow,
			flagsets:   gridFlags(),
		},
		{
			name: "Bins.Electron.High",
			usage: `
              Bins.Electron.High is the upper edge of the electron kinetic energy
              grid [eV].`,
			defaultVal: tfgen.DefaultBinHigh,
			flagsets:   gridFlags(),
		},
		{
			name: "TimeStep.Mode",
			usage: `
              TimeStep.Mode selects how the step size is chosen. "dlnz" uses
              TimeStep.Dlnz at every redshift; "conformal" uses a fixed conformal
              time step computed from TimeStep.DeltaT.`,
			defaultVal: tfgen.FixedDlnz,
			flagsets:   sweepFlags(),
		},
		{
			name: "TimeStep.Dlnz",
			usage: `
              TimeStep.Dlnz is the logarithmic redshift step used in "dlnz" mode.`,
			defaultVal: 0.001,
			flagsets:   sweepFlags(),
		},
		{
			name: "TimeStep.DeltaT",
			usage: `
              TimeStep.DeltaT is the proper time step [s] at the reference scale
              factor, used in "conformal" mode.`,
			defaultVal: 0.0,
			flagsets:   sweepFlags(),
		},
		{
			name: "TimeStep.RefScaleFactor",
			usage: `
              TimeStep.RefScaleFactor is the scale factor at which TimeStep.DeltaT
              is specified.`,
			defaultVal: 1.0,
			flagsets:   sweepFlags(),
		},
		{
			name: "TimeStep.SpeedOfLight",
			usage: `
              TimeStep.SpeedOfLight is the speed of light [cm/s] used to convert
              between conformal time and conformal distance.`,
			defaultVal: tfgen.SpeedOfLight,
			flagsets:   sweepFlags(),
		},
		{
			name: "Cosmology.H0",
			usage: `
              Cosmology.H0 is the Hubble constant [km/s/Mpc].`,
			defaultVal: tfgen.Planck18.H0,
			flagsets:   sweepFlags(),
		},
		{
			name: "Cosmology.OmegaM",
			usage: `
              Cosmology.OmegaM is the matter density parameter.`,
			defaultVal: tfgen.Planck18.OmegaM,
			flagsets:   sweepFlags(),
		},
		{
			name: "Cosmology.OmegaRad",
			usage: `
              Cosmology.OmegaRad is the radiation density parameter.`,
			defaultVal: tfgen.Planck18.OmegaRad,
			flagsets:   sweepFlags(),
		},
		{
			name: "Cosmology.OmegaLambda",
			usage: `
              Cosmology.OmegaLambda is the dark energy density parameter.`,
			defaultVal: tfgen.Planck18.OmegaLambda,
			flagsets:   sweepFlags(),
		},
		{
			name: "Solver.Address",
			usage: `
              Solver.Address is the host:port of the solver to send requests to.`,
			defaultVal: "localhost:6060",
			flagsets:   sweepFlags(),
		},
		{
			name: "Solver.Command",
			usage: `
              Solver.Command, if set, is a command that starts a solver on the local
              machine. The solver is told to listen on Solver.Address through the
              TFGEN_SOLVER_ADDR environment variable and is stopped when the sweep
              finishes.`,
			defaultVal: "",
			flagsets:   sweepFlags(),
		},
		{
			name: "Solver.LogFile",
			usage: `
              Solver.LogFile is where output from a solver started with
              Solver.Command is written. The default is solver.log in OutputDir.`,
			defaultVal: "",
			flagsets:   sweepFlags(),
		},
		{
			name: "Solver.Timeout",
			usage: `
              Solver.Timeout is the longest a single solver call may take,
              e.g. "30m". Zero means no limit.`,
			defaultVal: "1h",
			flagsets:   sweepFlags(),
		},
		{
			name: "Solver.MaxRetries",
			usage: `
              Solver.MaxRetries is the number of times a solver call that failed
              because of a connection problem or timeout is retried.`,
			defaultVal: 3,
			flagsets:   sweepFlags(),
		},
		{name: "Solver.Static.Binning", usage: `
              Solver.Static.Binning is the abscissa binning mode.`, defaultVal: static.Binning, flagsets: sweepFlags()},
		{name: "Solver.Static.ElectronMethod", usage: `
              Solver.Static.ElectronMethod is the level of detail for electron
              heating and ionization.`, defaultVal: static.ElectronMethod, flagsets: sweepFlags()},
		{name: "Solver.Static.FsMethod", usage: `
              Solver.Static.FsMethod is the deposition fraction method.`, defaultVal: static.FsMethod, flagsets: sweepFlags()},
		{name: "Solver.Static.SeparateHighEng", usage: `
              Solver.Static.SeparateHighEng separates high-energy photons.`, defaultVal: static.SeparateHighEng, flagsets: sweepFlags()},
		{name: "Solver.Static.SeparateHelium", usage: `
              Solver.Static.SeparateHelium tracks helium ionization separately.`, defaultVal: static.SeparateHelium, flagsets: sweepFlags()},
		{name: "Solver.Static.HeliumTLA", usage: `
              Solver.Static.HeliumTLA evolves helium in the three-level atom.`, defaultVal: static.HeliumTLA, flagsets: sweepFlags()},
		{name: "Solver.Static.Backreaction", usage: `
              Solver.Static.Backreaction lets injected energy change the
              ionization history.`, defaultVal: static.Backreaction, flagsets: sweepFlags()},
		{name: "Solver.Static.ReionSwitch", usage: `
              Solver.Static.ReionSwitch includes reionization.`, defaultVal: static.ReionSwitch, flagsets: sweepFlags()},
		{name: "Solver.Static.StructBoost", usage: `
              Solver.Static.StructBoost includes the structure formation boost.`, defaultVal: static.StructBoost, flagsets: sweepFlags()},
		{name: "Solver.Static.Distortion", usage: `
              Solver.Static.Distortion tracks spectral distortions.`, defaultVal: static.Distortion, flagsets: sweepFlags()},
		{name: "Solver.Static.FexcSwitch", usage: `
              Solver.Static.FexcSwitch uses excitation fractions.`, defaultVal: static.FexcSwitch, flagsets: sweepFlags()},
		{name: "Solver.Static.ICSOnly", usage: `
              Solver.Static.ICSOnly only includes inverse Compton scattering for
              electrons.`, defaultVal: static.ICSOnly, flagsets: sweepFlags()},
		{name: "Solver.Static.CMBTreatment", usage: `
              Solver.Static.CMBTreatment is "ICS" or "none".`, defaultVal: static.CMBTreatment, flagsets: sweepFlags()},
		{name: "Solver.Static.CoarsenFactor", usage: `
              Solver.Static.CoarsenFactor is the transfer function coarsening
              factor.`, defaultVal: static.CoarsenFactor, flagsets: sweepFlags()},
		{name: "Solver.Static.MaxODESteps", usage: `
              Solver.Static.MaxODESteps is the maximum number of steps for the
              ionization-history ODE solver.`, defaultVal: static.MaxODESteps, flagsets: sweepFlags()},
		{name: "Solver.Static.RelTolerance", usage: `
              Solver.Static.RelTolerance is the relative tolerance of the ODE
              solver.`, defaultVal: static.RelTolerance, flagsets: sweepFlags()},
		{name: "Solver.Static.HighEngThreshold", usage: `
              Solver.Static.HighEngThreshold is the high-energy photon threshold
              [eV].`, defaultVal: static.HighEngThreshold, flagsets: sweepFlags()},
		{name: "Solver.Static.LowEngThreshold", usage: `
              Solver.Static.LowEngThreshold is the low-energy electron threshold
              [eV].`, defaultVal: static.LowEngThreshold, flagsets: sweepFlags()},
		{name: "Solver.Static.ClumpingFactor", usage: `
              Solver.Static.ClumpingFactor is the baryon clumping factor.`, defaultVal: static.ClumpingFactor, flagsets: sweepFlags()},
		{name: "Solver.Static.IncludeTwoPhoton", usage: `
              Solver.Static.IncludeTwoPhoton includes 2s→1s two-photon decay.`, defaultVal: static.IncludeTwoPhoton, flagsets: sweepFlags()},
		{
			name: "OutputDir",
			usage: `
              OutputDir is the directory tables and status files are written to.
              It can include environment variables.`,
			defaultVal: "tables",
			flagsets:   sweepFlags(),
		},
		{
			name: "PublishURL",
			usage: `
              PublishURL, if set, is a blob storage location finished tables are
              copied to, in the format 'provider://bucket/prefix' where provider
              is "file", "gs", or "s3".`,
			defaultVal: "",
			flagsets:   sweepFlags(),
		},
		{
			name: "WriteRetries",
			usage: `
              WriteRetries is the number of times writing or publishing a table
              is retried.`,
			defaultVal: 3,
			flagsets:   sweepFlags(),
		},
		{
			name: "LogFile",
			usage: `
              LogFile is the path to the desired logfile location. It can include
              environment variables. If LogFile is left blank, log messages are
              only written to standard output.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "LogFormat",
			usage: `
              LogFormat is "text" or "json".`,
			defaultVal: "text",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "dryrun",
			usage: `
              dryrun prints the sweep plan (axes, injection energies, time steps
              and output files) without calling the solver.`,
			defaultVal: false,
			flagsets:   sweepFlags(),
		},
		{
			name: "partition",
			usage: `
              partition, if >= 0, restricts the sweep to the single ionization
              index given. It overrides begin and end.`,
			shorthand:  "p",
			defaultVal: -1,
			flagsets:   sweepFlags(),
		},
		{
			name: "begin",
			usage: `
              begin specifies the beginning ionization index (inclusive) to sweep.`,
			defaultVal: 0,
			flagsets:   sweepFlags(),
		},
		{
			name: "end",
			usage: `
              end specifies the ending ionization index (exclusive) to sweep.
              The default is -1 which represents the last index.`,
			defaultVal: -1,
			flagsets:   sweepFlags(),
		},
		{
			name: "skipexisting",
			usage: `
              skipexisting skips cells whose table already exists in OutputDir,
              so a sweep can be re-run to fill in failed or missing cells.`,
			defaultVal: false,
			flagsets:   sweepFlags(),
		},
	}

	Cfg = viper.New()

	// Set the prefix for configuration environment variables.
	Cfg.SetEnvPrefix("TFGEN")
	Cfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	Cfg.AutomaticEnv()

	for _, option := range options {
		for i, set := range option.flagsets {
			if i != 0 { // We don't want to create the same flag twice.
				set.AddFlag(option.flagsets[0].Lookup(option.name))
				continue
			}
			switch v := option.defaultVal.(type) {
			case string:
				set.StringP(option.name, option.shorthand, v, option.usage)
			case bool:
				set.BoolP(option.name, option.shorthand, v, option.usage)
			case int:
				set.IntP(option.name, option.shorthand, v, option.usage)
			case float64:
				set.Float64P(option.name, option.shorthand, v, option.usage)
			case []float64:
				// Lists are passed as JSON so no precision is lost.
				b := bytes.NewBuffer(nil)
				json.NewEncoder(b).Encode(v)
				set.StringP(option.name, option.shorthand, strings.TrimSpace(b.String()), option.usage)
			default:
				panic("invalid argument type")
			}
			Cfg.BindPFlag(option.name, set.Lookup(option.name))
		}
	}
}

func init() {
	// Link the commands together.
	Root.AddCommand(versionCmd)
	Root.AddCommand(binsCmd)
	Root.AddCommand(sweepCmd)
}

// setConfig finds and reads in the configuration file, if there is one.
func setConfig() error {
	if cfgpath := Cfg.GetString("config"); cfgpath != "" {
		Cfg.SetConfigFile(cfgpath)
		if err := Cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("tfgen: problem reading configuration file: %v", err)
		}
	}
	return nil
}

// Root is the main command.
var Root = &cobra.Command{
	Use:   "tfgen",
	Short: "A transfer function table generator.",
	Long: `tfgen builds the transfer function tables used to model energy injection
in the early universe. It sweeps a grid of ionization fraction, baryon density
and redshift, calls a solver once for each injection energy and writes one
table per grid cell.

Refer to the subcommand documentation for configuration options and default settings.
Configuration can be changed by using a configuration file (and providing the
path to the file using the --config flag), by using command-line arguments,
or by setting environment variables in the format 'TFGEN_var' where 'var' is the
name of the variable to be set, with '.' replaced by '_'.
Refer to https://github.com/spf13/viper for additional configuration information.`,
	DisableAutoGenTag: true,
	PersistentPreRunE: func(*cobra.Command, []string) error { return setConfig() },
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  "version prints the version number of this version of tfgen.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("tfgen v%s\n", tfgen.Version)
	},
	DisableAutoGenTag: true,
}

// binsCmd prints the energy grids.
var binsCmd = &cobra.Command{
	Use:   "bins [photon|electron]",
	Short: "Print an energy grid.",
	Long: `bins prints the edges, width and representative energy of each bin
of the photon (default) or electron energy grid, in eV.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind := "photon"
		if len(args) == 1 {
			kind = args[0]
		}
		return PrintBins(cmd.OutOrStdout(), Cfg, kind)
	},
	DisableAutoGenTag: true,
}

// sweepCmd runs a sweep.
var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Sweep the grid and write transfer function tables.",
	Long: `sweep calls the solver for every injection energy at every grid cell
and writes one table per cell to OutputDir. A status file summarizing the
sweep is written alongside the tables. Use --partition or --begin and --end to
sweep a slice of the ionization axis, for example to run several
independent processes. An interrupt stops the sweep after the cell in
progress has been written.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		closeLog, err := setLogging(cmd.OutOrStdout(), Cfg)
		if err != nil {
			return err
		}
		defer closeLog()
		return Sweep(cmd.Context(), cmd.OutOrStdout(), Cfg)
	},
	DisableAutoGenTag: true,
}
