package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/pipecheck/internal/config"
	"github.com/3leaps/pipecheck/internal/observability"
	"github.com/3leaps/pipecheck/pkg/extract"
	"github.com/3leaps/pipecheck/pkg/pipeline"
)

var listCmd = &cobra.Command{
	Use:   "list <manifest|locator>",
	Short: "List pipelines, their steps and requirement counts",
	Long: `List the pipelines of a manifest with their steps in check order and the
number of requirements each step declares.

The argument is a manifest path or module name (all pipelines), or a full
locator <manifest>:<pipeline> (that pipeline only).

Examples:
  pipecheck list pipeline.yaml
  pipecheck list pipelines.rnaseq
  pipecheck list pipeline.yaml:ExamplePipeline`,
	Args: cobra.ExactArgs(1),
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	cfg := config.GetConfig()
	if cfg == nil {
		var err error
		if cfg, err = config.Load(commandContext(cmd)); err != nil {
			return exitError(foundry.ExitInvalidArgument, "Cannot load configuration", err)
		}
	}
	opts := pipeline.ResolveOptions{SearchPaths: cfg.SearchPaths}

	m, names, err := listTargets(args[0], opts)
	if err != nil {
		code := foundry.ExitInvalidArgument
		if errors.Is(err, pipeline.ErrManifestNotFound) {
			code = foundry.ExitFileNotFound
		}
		return exitError(code, "Cannot load manifest", err)
	}

	return writeListing(cmd.OutOrStdout(), m, names)
}

// listTargets loads the manifest and selects the pipelines to list.
func listTargets(arg string, opts pipeline.ResolveOptions) (*pipeline.Manifest, []string, error) {
	if strings.Contains(arg, ":") {
		m, name, err := pipeline.LoadLocator(arg, opts)
		if err != nil {
			return nil, nil, err
		}
		if _, ok := m.Pipeline(name); !ok {
			return nil, nil, &pipeline.LocatorError{
				Locator: arg,
				Reason:  fmt.Sprintf("no pipeline named %q (available: %s)", name, strings.Join(m.PipelineNames(), ", ")),
			}
		}
		return m, []string{name}, nil
	}

	path, err := pipeline.FindManifest(arg, opts)
	if err != nil {
		return nil, nil, &pipeline.LocatorError{Locator: arg, Reason: "cannot find manifest", Err: err}
	}
	m, err := pipeline.Load(path)
	if err != nil {
		return nil, nil, &pipeline.LocatorError{Locator: arg, Reason: "cannot load manifest " + path, Err: err}
	}
	return m, m.PipelineNames(), nil
}

func writeListing(out io.Writer, m *pipeline.Manifest, names []string) error {
	logger := observability.CLILogger
	extractor := extract.New(logger)

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "PIPELINE\tSTEP\tREQUIREMENTS\tSUMMARY")

	for _, name := range names {
		p, err := pipeline.Build(m, name)
		if err != nil {
			return exitError(foundry.ExitInvalidArgument, "Cannot build pipeline "+name, err)
		}

		label := p.Name
		if p.Title != "" && p.Title != p.Name {
			label += " (" + p.Title + ")"
		}
		for i, s := range p.Steps {
			if i > 0 {
				label = ""
			}
			count := "-"
			if reqs, err := extractor.Step(p, s); err != nil {
				logger.Debug("Cannot extract requirements", zap.String("step", s.Name), zap.Error(err))
				count = "malformed"
			} else if reqs.Declared() {
				count = fmt.Sprintf("%d", len(reqs.Requirements))
			}
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", label, s.Name, count, s.Summary)
		}
	}
	return tw.Flush()
}
