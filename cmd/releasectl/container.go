package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/artpar/releasectl/internal/core/release"
	"github.com/artpar/releasectl/internal/shell/console"
	"github.com/artpar/releasectl/internal/shell/docker"
	"github.com/artpar/releasectl/internal/shell/promotion"
	"github.com/artpar/releasectl/internal/shell/registry"
	"github.com/artpar/releasectl/internal/shell/rollout"
)

func newContainerCommand(a *app) *cobra.Command {
	var aliases aliasFlags

	cmd := &cobra.Command{
		Use:   "container",
		Short: "Manage container images in ECR",
	}
	cmd.PersistentFlags().String("repository", "", "ECR repository name")
	aliases.register(cmd)

	// names resolves the alias names and set for container commands.
	names := func() (release.ArtifactSet, release.AliasNames, error) {
		n, err := a.aliases(a.cfg.Container.Alias, aliases)
		if err != nil {
			return release.ArtifactSet{}, release.AliasNames{}, err
		}
		set := a.cfg.ContainerSet()
		if err := set.Validate(); err != nil {
			return release.ArtifactSet{}, release.AliasNames{}, &configError{Err: err}
		}
		return set, n, nil
	}

	cmd.AddCommand(
		newListCommand(a, "List live, rollback and last pushed images", release.BackendContainer, names),
		newContainerPromoteCommand(a, names),
		newContainerRollbackCommand(a, names),
		newContainerRolloutCommand(a, names),
		newContainerPushCommand(a),
		newContainerPullCommand(a),
	)
	return cmd
}

func newContainerPromoteCommand(a *app, names setResolver) *cobra.Command {
	var buildID string
	cmd := &cobra.Command{
		Use:   "promote",
		Short: "Point the live tag at a pushed build, archiving the previous one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			set, n, err := names()
			if err != nil {
				return err
			}
			engine, err := a.engineFor(cmd.Context(), release.BackendContainer)
			if err != nil {
				return err
			}
			res, err := engine.Promote(cmd.Context(), promotion.PromoteRequest{Set: set, BuildID: buildID, Aliases: n})
			if err != nil {
				return err
			}
			return a.emit(res, console.PromotionLines(res))
		},
	}
	cmd.Flags().StringVar(&buildID, "build-id", "", "Build tag to promote, usually the commit SHA")
	cmd.MarkFlagRequired("build-id")
	return cmd
}

func newContainerRollbackCommand(a *app, names setResolver) *cobra.Command {
	var swap bool
	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Point the live tag back at the rollback image",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			set, n, err := names()
			if err != nil {
				return err
			}
			engine, err := a.engineFor(cmd.Context(), release.BackendContainer)
			if err != nil {
				return err
			}
			res, err := engine.Rollback(cmd.Context(), promotion.RollbackRequest{Set: set, Aliases: n, Swap: swap})
			if err != nil {
				return err
			}
			return a.emit(res, console.RollbackLines(res))
		},
	}
	cmd.Flags().BoolVar(&swap, "swap", false, "Exchange live and rollback instead of keeping rollback")
	return cmd
}

func newContainerRolloutCommand(a *app, names setResolver) *cobra.Command {
	var buildID string
	cmd := &cobra.Command{
		Use:   "rollout",
		Short: "Refresh an auto scaling group, rolling back the live image if it stalls",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := a.fleetName(); err != nil {
				return err
			}
			set, n, err := names()
			if err != nil {
				return err
			}
			engine, err := a.engineFor(cmd.Context(), release.BackendContainer)
			if err != nil {
				return err
			}
			if buildID != "" {
				res, err := engine.Promote(cmd.Context(), promotion.PromoteRequest{Set: set, BuildID: buildID, Aliases: n})
				if err != nil {
					return err
				}
				a.console.Lines(console.PromotionLines(res))
			}
			return a.runRollout(cmd.Context(), &rollout.Escalation{
				Engine:  engine,
				Request: promotion.RollbackRequest{Set: set, Aliases: n},
			})
		},
	}
	cmd.Flags().StringVar(&buildID, "build-id", "", "Promote this build before starting the refresh")
	addRolloutFlags(cmd)
	return cmd
}

// =============================================================================
// Image transfer
// =============================================================================

type pushOutput struct {
	Set     release.ArtifactSet `json:"set" yaml:"set"`
	BuildID string              `json:"build_id" yaml:"build_id"`
	Skipped bool                `json:"skipped" yaml:"skipped"`
	Ref     release.ArtifactRef `json:"ref" yaml:"ref"`
	Tags    []string            `json:"tags,omitempty" yaml:"tags,omitempty"`
}

func newContainerPushCommand(a *app) *cobra.Command {
	var (
		image, localTag, buildID, additionalTag string
		autoRemoteTag                           bool
	)
	cmd := &cobra.Command{
		Use:   "push",
		Short: "Push a local image to ECR under its build tag",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			set := a.cfg.ContainerSet()
			if err := set.Validate(); err != nil {
				return &configError{Err: err}
			}
			if buildID == "" {
				buildID = localTag
			}
			f, err := a.factory(ctx)
			if err != nil {
				return err
			}
			reg := f.Registry()

			out := pushOutput{Set: set, BuildID: buildID}
			var lines []string

			ref, err := reg.GetArtifact(ctx, set, buildID)
			if err != nil {
				return err
			}
			if ref != nil {
				out.Skipped = true
				lines = append(lines, fmt.Sprintf("%s Already present in ECR: %s:%s (skipping upload)", console.GlyphOK, set.Repository, buildID))
			} else {
				if ref, err = a.pushImage(ctx, reg, set, image+":"+localTag, buildID); err != nil {
					return err
				}
				lines = append(lines, fmt.Sprintf("%s Pushed %s:%s", console.GlyphOK, set.Repository, buildID))
			}
			out.Ref = *ref

			var extra []string
			if autoRemoteTag {
				tags, err := reg.ListTags(ctx, set)
				if err != nil {
					return err
				}
				extra = append(extra, strconv.FormatUint(release.NextNumericTag(tags), 10))
			}
			if additionalTag != "" {
				extra = append(extra, additionalTag)
			}
			for _, tag := range extra {
				if err := reg.BindAlias(ctx, set, tag, *ref); err != nil {
					return err
				}
				out.Tags = append(out.Tags, tag)
				lines = append(lines, fmt.Sprintf("%s Added tag %s", console.GlyphOK, tag))
			}
			if url := release.RefURL(set, *ref); url != "" {
				lines = append(lines, "  🌐 "+url)
			}
			return a.emit(out, lines)
		},
	}
	cmd.Flags().StringVar(&image, "image", "", "Local image name")
	cmd.Flags().StringVar(&localTag, "local-tag", "", "Local image tag, usually the commit SHA")
	cmd.Flags().StringVar(&buildID, "build-id", "", "Remote build tag (defaults to --local-tag)")
	cmd.Flags().StringVar(&additionalTag, "additional-tag", "", "Extra remote tag bound to the pushed image")
	cmd.Flags().BoolVar(&autoRemoteTag, "auto-remote-tag", false, "Also tag the image with the next numeric tag")
	cmd.MarkFlagRequired("image")
	cmd.MarkFlagRequired("local-tag")
	return cmd
}

func (a *app) pushImage(ctx context.Context, reg *registry.Registry, set release.ArtifactSet, local, buildID string) (*release.ArtifactRef, error) {
	if err := reg.EnsureRepository(ctx, set); err != nil {
		return nil, err
	}
	auth, err := reg.Login(ctx)
	if err != nil {
		return nil, err
	}
	dc, err := docker.NewDockerClient(ctx, a.cfg.Docker.Host, a.progressWriter(), a.logger)
	if err != nil {
		return nil, err
	}
	defer dc.Close()

	remote := auth.ServerAddress + "/" + set.Repository + ":" + buildID
	if err := dc.Push(ctx, local, remote, auth); err != nil {
		return nil, err
	}

	ref, err := reg.GetArtifact(ctx, set, buildID)
	if err != nil {
		return nil, err
	}
	if ref == nil {
		return nil, release.NewError("Push", set, "", "pushed image "+buildID+" is not visible in the registry", release.ErrArtifactNotFound)
	}
	return ref, nil
}

func newContainerPullCommand(a *app) *cobra.Command {
	var tag, platform string
	cmd := &cobra.Command{
		Use:   "pull",
		Short: "Pull an image from ECR",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			set := a.cfg.ContainerSet()
			if err := set.Validate(); err != nil {
				return &configError{Err: err}
			}
			f, err := a.factory(ctx)
			if err != nil {
				return err
			}
			auth, err := f.Registry().Login(ctx)
			if err != nil {
				return err
			}
			dc, err := docker.NewDockerClient(ctx, a.cfg.Docker.Host, a.progressWriter(), a.logger)
			if err != nil {
				return err
			}
			defer dc.Close()

			ref := auth.ServerAddress + "/" + set.Repository + ":" + tag
			if err := dc.Pull(ctx, ref, docker.PullOptions{Platform: platform, Auth: &auth}); err != nil {
				return err
			}
			return a.emit(map[string]string{"image": ref}, []string{fmt.Sprintf("%s Pulled image: %s", console.GlyphOK, ref)})
		},
	}
	cmd.Flags().StringVar(&tag, "tag", "", "Image tag to pull")
	cmd.Flags().StringVar(&platform, "platform", "", "Platform to pull, e.g. linux/amd64")
	cmd.MarkFlagRequired("tag")
	return cmd
}
