package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/droned/droned/internal/blaster"
	"github.com/droned/droned/internal/dispatch"
	"github.com/droned/droned/internal/domain"
	"github.com/droned/droned/internal/supervisor"
)

// appFile is the on-disk shape of one declared AppInstance: one TOML file
// per (app, label) under Config.Apps.ConfigDir, the config-graph source
// App/AppInstance are discovered from (spec §3). App defaults to Label
// when omitted, for the common case of one instance per application.
type appFile struct {
	App                 string            `toml:"app"`
	Label               string            `toml:"label"`
	Version             string            `toml:"version"`
	Path                string            `toml:"path"`
	Args                []string          `toml:"args"`
	StopPath            string            `toml:"stop_path"`
	StopArgs            []string          `toml:"stop_args"`
	Dir                 string            `toml:"dir"`
	LogDir              string            `toml:"log_dir"`
	Env                 map[string]string `toml:"env"`
	Enabled             bool              `toml:"enabled"`
	AutoRecover         bool              `toml:"auto_recover"`
	AssimilationPattern string            `toml:"assimilation_pattern"`
}

// loadApps reads every "*.toml" file under cfg.ConfigDir, in lexical
// filename order, parsing each into an app declaration. A missing
// directory is not an error — it simply means no apps are declared yet.
func loadApps(cfg AppsConfig) ([]appFile, error) {
	entries, err := os.ReadDir(cfg.ConfigDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read apps config dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".toml") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	files := make([]appFile, 0, len(names))
	for _, name := range names {
		path := filepath.Join(cfg.ConfigDir, name)
		var f appFile
		if _, err := toml.DecodeFile(path, &f); err != nil {
			return nil, fmt.Errorf("parse app config %s: %w", name, err)
		}
		if f.Label == "" {
			return nil, fmt.Errorf("app config %s: missing label", name)
		}
		if f.App == "" {
			f.App = f.Label
		}
		files = append(files, f)
	}
	return files, nil
}

// registerApps declares every configured AppInstance on d.Apps, applies
// each file's enabled flag, installs an assimilation rule per app that
// names an assimilation_pattern, and registers one dispatcher action per
// distinct app name (e.g. "foo start 0") so an operator can address any
// instance of that app by label. Called once at startup, after Config is
// loaded and before the journal's "apps" source is registered, so a later
// journal restore sees already-declared instances to apply persisted
// enabled flags onto.
func (d *Daemon) registerApps() error {
	files, err := loadApps(d.Config.Apps)
	if err != nil {
		return err
	}

	registeredApps := make(map[string]bool)

	for _, f := range files {
		version, err := domain.ParseVersion(f.App, f.Version)
		if err != nil {
			return fmt.Errorf("app %s: %w", f.App, err)
		}

		spec := supervisor.Spec{
			App:         f.App,
			Label:       f.Label,
			Version:     version,
			Path:        f.Path,
			Args:        f.Args,
			StopPath:    f.StopPath,
			StopArgs:    f.StopArgs,
			Dir:         f.Dir,
			LogDir:      f.LogDir,
			Env:         f.Env,
			AutoRecover: f.AutoRecover,
		}
		inst := d.Apps.Declare(spec)
		if !f.Enabled {
			inst.Disable()
		}

		if f.AssimilationPattern != "" {
			pattern, err := regexp.Compile("(?i)" + f.AssimilationPattern)
			if err != nil {
				return fmt.Errorf("app %s: invalid assimilation_pattern: %w", f.App, err)
			}
			d.Apps.AddRule(supervisor.AssimilationRule{App: f.App, Pattern: pattern})
		}

		if !registeredApps[f.App] {
			registeredApps[f.App] = true
			d.Actions.Register(dispatch.Action{
				Name: f.App,
				Help: fmt.Sprintf("manage %s instances: start|stop|restart|status|enable|disable <label>", f.App),
				Run:  appCommandHandler(d.Apps, f.App),
			})
		}
	}

	for _, exe := range d.Config.Apps.AssimilateExes {
		app := filepath.Base(exe)
		d.Apps.AddRule(supervisor.AssimilationRule{
			App:     app,
			Pattern: regexp.MustCompile("(?i)" + regexp.QuoteMeta(exe)),
		})
	}

	return nil
}

// appCommandHandler builds the dispatcher handler behind a single app's
// admin verb: it splits argstr into a subcommand and an instance label,
// looks up that app's AppInstance, and runs the requested lifecycle
// operation against it (spec §4.8/§4.6, scenario "foo start 0").
func appCommandHandler(apps *supervisor.AppManager, app string) dispatch.Handler {
	usage := fmt.Sprintf("usage: %s <start|stop|restart|status|enable|disable> <label>", app)
	return func(ctx context.Context, argstr string) blaster.Result {
		sub, label := splitSubcommand(argstr)
		if label == "" {
			return dispatch.Fail(400, usage)
		}

		inst, err := apps.Lookup(app + "/" + label)
		if err != nil {
			return dispatch.Fail(404, err.Error())
		}

		switch sub {
		case "start":
			if err := inst.Start(ctx); err != nil {
				return dispatch.Fail(1, err.Error())
			}
			return dispatch.OK(fmt.Sprintf("started %s/%s", app, label))
		case "stop":
			if err := inst.Stop(ctx); err != nil {
				return dispatch.Fail(1, err.Error())
			}
			return dispatch.OK(fmt.Sprintf("stopped %s/%s", app, label))
		case "restart":
			if err := inst.Stop(ctx); err != nil {
				return dispatch.Fail(1, err.Error())
			}
			if err := inst.Start(ctx); err != nil {
				return dispatch.Fail(1, err.Error())
			}
			return dispatch.OK(fmt.Sprintf("restarted %s/%s", app, label))
		case "status":
			facts, running, _ := inst.Facts(ctx)
			extra := map[string]any{"running": running, "state": string(inst.State())}
			if running {
				extra["pid"] = facts.PID
			}
			return dispatch.OKExtra(fmt.Sprintf("%s/%s: %s", app, label, inst.State()), extra)
		case "enable":
			inst.Enable()
			return dispatch.OK(fmt.Sprintf("enabled %s/%s", app, label))
		case "disable":
			inst.Disable()
			return dispatch.OK(fmt.Sprintf("disabled %s/%s", app, label))
		default:
			return dispatch.Fail(400, usage)
		}
	}
}

// splitSubcommand splits an app action's argstr ("start 0") into its
// subcommand and instance label.
func splitSubcommand(argstr string) (sub, label string) {
	argstr = strings.TrimSpace(argstr)
	idx := strings.IndexAny(argstr, " \t")
	if idx < 0 {
		return argstr, ""
	}
	return argstr[:idx], strings.TrimSpace(argstr[idx+1:])
}
