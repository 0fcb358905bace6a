package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/loadsctl/loadsctl/pkg/bundle"
	"github.com/loadsctl/loadsctl/pkg/buildquery"
	"github.com/loadsctl/loadsctl/pkg/pkginfo"
	"github.com/loadsctl/loadsctl/pkg/signing"
	"github.com/loadsctl/loadsctl/pkg/target"
)

var (
	buildVersion    string
	buildFilenames  []string
	buildLoadsName  string
	buildSymlink    bool
	buildSign       bool
	buildVerifyMode bool
	buildWithDeps   bool
	buildObjDir     string
)

var buildCmd = &cobra.Command{
	Use:   "build <dest-dir> <target> <pkg> [<target> <pkg> ...]",
	Short: "Assemble a signed bundle from one or more target/package pairs",
	Args:  cobra.MinimumNArgs(3),
	RunE:  runBuild,
}

func init() {
	rootCmd.AddCommand(buildCmd)

	buildCmd.Flags().StringVar(&buildVersion, "version", "", "override the bundle version (default: first package's extracted version)")
	buildCmd.Flags().StringArrayVar(&buildFilenames, "filename", nil, "override the Nth package's filename in the bundle (repeatable)")
	buildCmd.Flags().StringVar(&buildLoadsName, "loads-name", "", "override the .loads filename (default: derived from the first target)")
	buildCmd.Flags().BoolVar(&buildSymlink, "symlink", true, "place packages as symlinks (--symlink=false copies them)")
	buildCmd.Flags().BoolVar(&buildSign, "sign", true, "sign the produced manifest")
	buildCmd.Flags().BoolVar(&buildVerifyMode, "verify-mode", false, "bypass the fast metadata path; always extract from package bytes")
	buildCmd.Flags().BoolVar(&buildWithDeps, "with-deps", false, "expand the first target into itself plus its declared dependencies, resolving their packages via the build system")
	buildCmd.Flags().StringVar(&buildObjDir, "objdir", "", "objdir passed to the build-system query when --with-deps is set")
}

func runBuild(cmd *cobra.Command, args []string) error {
	cfg := loadConfigOrDie()
	dst := args[0]
	pairs := args[1:]

	resolver := pkginfo.NewResolver(pkginfo.NewExtractor(cfg.Tools.PkgExtract), logger)
	signer := signing.NewSigner(cfg.Tools.SwimsClient, logger)

	var signKey signing.KeySource
	if buildSign {
		ks, err := keySourceFromConfig(cfg)
		if err != nil {
			return err
		}
		signKey = ks
	}

	opts := bundle.Options{
		Version:     buildVersion,
		Filenames:   buildFilenames,
		LoadsName:   buildLoadsName,
		Symlink:     buildSymlink,
		SignKey:     signKey,
		PkgInfoOpts: pkginfo.Options{ForceSlow: buildVerifyMode},
	}

	assembler := bundle.NewAssembler(resolver, signer)
	ctx := context.Background()

	if buildWithDeps {
		if len(pairs) != 2 {
			return fmt.Errorf("--with-deps takes exactly one target and one package")
		}
		tgt, err := target.Default.ByName(pairs[0])
		if err != nil {
			return err
		}
		query := buildquery.NewClient(cfg.Tools.BuildSystem, dst)
		loadsPath, err := assembler.BuildWithDeps(ctx, dst, tgt, pairs[1], bundle.BuildWithDepsOptions{
			Options:  opts,
			Registry: target.Default,
			Query:    query,
			ObjDir:   buildObjDir,
		})
		if err != nil {
			return err
		}
		logger.Info("bundle assembled", zap.String("loads", loadsPath))
		fmt.Println(loadsPath)
		return nil
	}

	if len(pairs)%2 != 0 {
		return fmt.Errorf("expected pairs of <target> <pkg>, got an odd number of arguments")
	}
	var targets []target.Target
	var pkgs []string
	for i := 0; i < len(pairs); i += 2 {
		tgt, err := target.Default.ByName(pairs[i])
		if err != nil {
			return err
		}
		targets = append(targets, tgt)
		pkgs = append(pkgs, pairs[i+1])
	}

	loadsPath, err := assembler.Build(ctx, dst, targets, pkgs, opts)
	if err != nil {
		return err
	}
	logger.Info("bundle assembled", zap.String("loads", loadsPath))
	fmt.Println(loadsPath)
	return nil
}
