package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/rendercheck/fixture"
)

func newCorpusCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "corpus",
		Short: "Copy upstream render tests into the fixtures dir and write the manifest",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.buildCorpus()
		},
	}
	cmd.Flags().String("source", "", "upstream render tests tree (…/test/integration/render/tests)")
	cmd.Flags().String("assets-source", "", "upstream shared assets tree")
	mustBind(a.v, "corpus.source", cmd.Flags().Lookup("source"))
	mustBind(a.v, "corpus.assets_source", cmd.Flags().Lookup("assets-source"))
	return cmd
}

func (a *app) buildCorpus() error {
	src := firstNonEmpty(a.v.GetString("corpus.source"), a.cfg.Corpus.Source)
	if src == "" {
		return errors.New("corpus: --source (or corpus.source in the config) is required")
	}
	entries, err := fixture.BuildCorpus(fixture.CorpusOptions{
		Source:       src,
		AssetsSource: firstNonEmpty(a.v.GetString("corpus.assets_source"), a.cfg.Corpus.AssetsSource),
		Dest:         a.cfg.Server.FixturesDir,
		AssetsDest:   a.cfg.Server.AssetsDir,
		Logger:       a.logger,
	})
	if err != nil {
		return err
	}

	skip := fixture.NewSkipList(a.cfg.Harness.SkipPrefixes)
	for _, p := range skip.Unused(fixture.IDs(entries)) {
		a.logger.Warn("corpus: skip prefix matches no fixture", "prefix", p)
	}
	skipped := 0
	for _, e := range entries {
		if skip.Skips(e.ID) {
			skipped++
		}
	}
	fmt.Fprintf(a.stdout, "%d fixtures written to %s (%d in skipped categories)\n",
		len(entries), a.cfg.Server.FixturesDir, skipped)
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
