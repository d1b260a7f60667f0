package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/artpar/apphost/internal/core/domain"
	"github.com/artpar/apphost/internal/core/envfile"
	"github.com/artpar/apphost/internal/core/flags"
)

// PlanSaver persists a published plan.
type PlanSaver interface {
	SavePlan(ctx context.Context, plan *domain.Plan) error
}

// NewPublish creates a pipeline holding the two built-in anchors.
// saver may be nil, in which case the publish step only logs.
func NewPublish(saver PlanSaver, logger *slog.Logger) *Pipeline {
	p := New(logger)
	// names are fixed and unique, Add cannot fail here
	_ = p.Add(PublishEnvStep())
	_ = p.Add(PublishStep(saver))
	return p
}

// PublishEnvStep seeds the .env artifact with the project name and one
// <RESOURCE>_IMAGE entry per container.
func PublishEnvStep() Step {
	return Step{
		Name: AnchorPublishEnv,
		Run: func(ctx context.Context, sc *StepContext) error {
			if sc.Plan == nil {
				return errors.New("no plan to publish")
			}
			entries := []envfile.Entry{{Key: "COMPOSE_PROJECT_NAME", Value: sc.Plan.Project}}
			for _, name := range sc.Plan.Order {
				res, ok := sc.Plan.Resource(name)
				if !ok || res.Kind != domain.KindContainer || res.Image == "" {
					continue
				}
				entries = append(entries, envfile.Entry{Key: EnvKey(res.Name) + "_IMAGE", Value: res.Image})
			}
			return patch(sc, entries)
		},
	}
}

// PublishStep persists the plan.
func PublishStep(saver PlanSaver) Step {
	return Step{
		Name:      AnchorPublish,
		DependsOn: []string{AnchorPublishEnv},
		Run: func(ctx context.Context, sc *StepContext) error {
			if sc.Plan == nil {
				return errors.New("no plan to publish")
			}
			if saver == nil {
				sc.Logger.Info("plan published", "plan_id", sc.Plan.ID)
				return nil
			}
			if err := saver.SavePlan(ctx, sc.Plan); err != nil {
				return err
			}
			sc.Logger.Info("plan stored", "plan_id", sc.Plan.ID, "resources", len(sc.Plan.Resources))
			return nil
		},
	}
}

// EnvPatchStep upserts entries into the .env artifact between the
// publish-env and publish anchors.
//
// Example:
//
//	EnvPatchStep("modify-env", []envfile.Entry{{Key: "SAMPLE_ENV_VAR", Value: "HelloWorld"}})
func EnvPatchStep(name string, entries []envfile.Entry) Step {
	return Step{
		Name:       name,
		DependsOn:  []string{AnchorPublishEnv},
		RequiredBy: []string{AnchorPublish},
		Run: func(ctx context.Context, sc *StepContext) error {
			for _, e := range entries {
				sc.Logger.Info("patching environment artifact", "key", e.Key)
			}
			return patch(sc, entries)
		},
	}
}

// EnvironmentStep records the target environment and tags each image with
// its lowercase name, e.g. ENTERPRISE_ENV=Prod and
// APISERVICE_IMAGE=apiservice:prod.
func EnvironmentStep(env flags.Environment, images ...string) Step {
	entries := []envfile.Entry{{Key: "ENTERPRISE_ENV", Value: string(env)}}
	for _, img := range images {
		entries = append(entries, envfile.Entry{
			Key:   EnvKey(img) + "_IMAGE",
			Value: img + ":" + env.Tag(),
		})
	}
	return EnvPatchStep("select-environment", entries)
}

// EnvKey turns a resource name into an environment key ("b01-platform-db"
// becomes "B01_PLATFORM_DB").
func EnvKey(name string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(name))
}

func patch(sc *StepContext, entries []envfile.Entry) error {
	if sc.OutputDir == "" {
		return errors.New("output directory is not set")
	}
	return envfile.Patch(envfile.Path(sc.OutputDir), entries)
}
