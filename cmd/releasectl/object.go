package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/artpar/releasectl/internal/core/release"
	"github.com/artpar/releasectl/internal/shell/console"
	"github.com/artpar/releasectl/internal/shell/promotion"
	"github.com/artpar/releasectl/internal/shell/rollout"
)

func newObjectCommand(a *app) *cobra.Command {
	var aliases aliasFlags

	cmd := &cobra.Command{
		Use:   "object",
		Short: "Manage build objects in S3",
	}
	pf := cmd.PersistentFlags()
	pf.String("bucket", "", "S3 bucket")
	pf.String("prefix", "", "Key prefix inside the bucket")
	pf.String("name", "", "Artifact name, e.g. launch-template.json")
	aliases.register(cmd)

	names := func() (release.ArtifactSet, release.AliasNames, error) {
		n, err := a.aliases(a.cfg.Object.Alias, aliases)
		if err != nil {
			return release.ArtifactSet{}, release.AliasNames{}, err
		}
		set := a.cfg.ObjectSet()
		if err := set.Validate(); err != nil {
			return release.ArtifactSet{}, release.AliasNames{}, &configError{Err: err}
		}
		return set, n, nil
	}

	cmd.AddCommand(
		newListCommand(a, "List live, rollback and last pushed objects", release.BackendObject, names),
		newObjectPromoteCommand(a, names),
		newObjectRollbackCommand(a, names),
		newObjectRolloutCommand(a, names),
		newObjectPushCommand(a),
	)
	return cmd
}

// bindingFlags describe the container build an object alias is bound to.
type bindingFlags struct {
	containerRepository string
	containerAlias      string
	commitTag           string
}

func (f *bindingFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.containerRepository, "container-repository", "", "ECR repository the object was built for")
	cmd.Flags().StringVar(&f.containerAlias, "container-alias", "", "Container alias the object follows (defaults to the environment's live alias)")
	cmd.Flags().StringVar(&f.commitTag, "commit-tag", "", "Commit tag of the container build (resolved from --container-alias when empty)")
}

// commitResolver returns the commit tag a container alias points at, or an
// empty string when the store cannot tell.
type commitResolver func(ctx context.Context, set release.ArtifactSet, alias string) (string, error)

// binding builds the metadata annotated on the live object alias. It returns
// nil when no binding was described.
func (a *app) binding(ctx context.Context, f bindingFlags) (*release.BindingMetadata, error) {
	env, err := a.cfg.Environment()
	if err != nil {
		return nil, &configError{Err: err}
	}
	return resolveBinding(ctx, f, env, a.cfg.AWS.Region, func(ctx context.Context, set release.ArtifactSet, alias string) (string, error) {
		engine, err := a.engineFor(ctx, release.BackendContainer)
		if err != nil {
			return "", err
		}
		return engine.CommitTag(ctx, set, alias)
	})
}

// resolveBinding fills in the container alias from the environment and the
// commit tag from the registry when they were not given.
func resolveBinding(ctx context.Context, f bindingFlags, env release.Environment, region string, resolve commitResolver) (*release.BindingMetadata, error) {
	meta := release.BindingMetadata{
		ContainerRepository: f.containerRepository,
		ContainerAlias:      f.containerAlias,
		CommitTag:           f.commitTag,
		Environment:         env.String(),
	}
	if meta.ContainerRepository == "" && meta.ContainerAlias == "" && meta.CommitTag == "" {
		return nil, nil
	}
	if meta.ContainerRepository != "" && meta.ContainerAlias == "" {
		meta.ContainerAlias = release.DefaultAliases(env).Live
	}
	if meta.CommitTag == "" && meta.ContainerRepository != "" {
		set := release.ContainerSet(region, meta.ContainerRepository)
		tag, err := resolve(ctx, set, meta.ContainerAlias)
		if err != nil {
			return nil, err
		}
		if tag == "" {
			return nil, release.NewError("Binding", set, meta.ContainerAlias, "no commit tag found for container alias", release.ErrArtifactNotFound)
		}
		meta.CommitTag = tag
	}
	return &meta, nil
}

func newObjectPromoteCommand(a *app, names setResolver) *cobra.Command {
	var (
		buildID string
		bf      bindingFlags
	)
	cmd := &cobra.Command{
		Use:   "promote",
		Short: "Copy a pushed build to the live key, archiving the previous one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			set, n, err := names()
			if err != nil {
				return err
			}
			engine, err := a.engineFor(ctx, release.BackendObject)
			if err != nil {
				return err
			}
			meta, err := a.binding(ctx, bf)
			if err != nil {
				return err
			}
			res, err := engine.Promote(ctx, promotion.PromoteRequest{Set: set, BuildID: buildID, Aliases: n, Binding: meta})
			if err != nil {
				return err
			}
			return a.emit(res, console.PromotionLines(res))
		},
	}
	cmd.Flags().StringVar(&buildID, "build-id", "", "Build to promote")
	cmd.MarkFlagRequired("build-id")
	bf.register(cmd)
	return cmd
}

func newObjectRollbackCommand(a *app, names setResolver) *cobra.Command {
	var (
		swap bool
		bf   bindingFlags
	)
	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Copy the rollback object back to the live key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			set, n, err := names()
			if err != nil {
				return err
			}
			engine, err := a.engineFor(ctx, release.BackendObject)
			if err != nil {
				return err
			}
			meta, err := a.binding(ctx, bf)
			if err != nil {
				return err
			}
			res, err := engine.Rollback(ctx, promotion.RollbackRequest{Set: set, Aliases: n, Swap: swap, Binding: meta})
			if err != nil {
				return err
			}
			return a.emit(res, console.RollbackLines(res))
		},
	}
	cmd.Flags().BoolVar(&swap, "swap", false, "Exchange live and rollback instead of keeping rollback")
	bf.register(cmd)
	return cmd
}

func newObjectRolloutCommand(a *app, names setResolver) *cobra.Command {
	var (
		buildID string
		bf      bindingFlags
	)
	cmd := &cobra.Command{
		Use:   "rollout",
		Short: "Refresh an auto scaling group, rolling back the live object if it stalls",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if _, err := a.fleetName(); err != nil {
				return err
			}
			set, n, err := names()
			if err != nil {
				return err
			}
			engine, err := a.engineFor(ctx, release.BackendObject)
			if err != nil {
				return err
			}
			if buildID != "" {
				meta, err := a.binding(ctx, bf)
				if err != nil {
					return err
				}
				res, err := engine.Promote(ctx, promotion.PromoteRequest{Set: set, BuildID: buildID, Aliases: n, Binding: meta})
				if err != nil {
					return err
				}
				a.console.Lines(console.PromotionLines(res))
			}
			return a.runRollout(ctx, &rollout.Escalation{
				Engine:  engine,
				Request: promotion.RollbackRequest{Set: set, Aliases: n},
			})
		},
	}
	cmd.Flags().StringVar(&buildID, "build-id", "", "Promote this build before starting the refresh")
	bf.register(cmd)
	addRolloutFlags(cmd)
	return cmd
}

type objectPushOutput struct {
	Set     release.ArtifactSet `json:"set" yaml:"set"`
	Key     string              `json:"key" yaml:"key"`
	Skipped bool                `json:"skipped" yaml:"skipped"`
	Ref     release.ArtifactRef `json:"ref" yaml:"ref"`
}

func newObjectPushCommand(a *app) *cobra.Command {
	var (
		file, buildID string
		force         bool
	)
	cmd := &cobra.Command{
		Use:   "push",
		Short: "Upload a build object under its build id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			set := a.cfg.ObjectSet()
			if err := set.Validate(); err != nil {
				return &configError{Err: err}
			}
			body, err := os.Open(file)
			if err != nil {
				return configErrorf("failed to open %s: %w", file, err)
			}
			defer body.Close()

			f, err := a.factory(ctx)
			if err != nil {
				return err
			}
			res, err := f.ObjectStore().Push(ctx, set, buildID, body, force)
			if err != nil {
				return err
			}

			line := fmt.Sprintf("%s Uploaded %s", console.GlyphOK, res.Key)
			if res.Skipped {
				line = fmt.Sprintf("%s Already present: %s (skipping upload)", console.GlyphOK, res.Key)
			}
			lines := []string{line}
			if url := release.RefURL(set, res.Ref); url != "" {
				lines = append(lines, "  🌐 "+url)
			}
			return a.emit(objectPushOutput{Set: set, Key: res.Key, Skipped: res.Skipped, Ref: res.Ref}, lines)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Local file to upload")
	cmd.Flags().StringVar(&buildID, "build-id", "", "Build id, usually the commit SHA")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing build")
	cmd.MarkFlagRequired("file")
	cmd.MarkFlagRequired("build-id")
	return cmd
}
