package stacks

import (
	"context"
	"errors"

	"github.com/artpar/apphost/internal/assembler"
	"github.com/artpar/apphost/internal/core/compose"
	"github.com/artpar/apphost/internal/topology"
)

// FromCompose returns a builder declaring one container per service of
// doc. Services without an image use "<name>:dev" and record their build
// context as a property.
func FromCompose(doc *compose.Document) assembler.BuildFunc {
	return func(ctx context.Context, s *assembler.Scope) error {
		var errs []error
		for _, d := range doc.Services {
			if err := ctx.Err(); err != nil {
				return err
			}
			b := declare(s.Topology, d)
			if d.Parent != "" {
				errs = append(errs, s.Groups.Attach(b, d.Parent))
			}
			if err := b.Err(); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}

func declare(t *topology.Topology, d compose.Declaration) *topology.ResourceBuilder {
	image := d.Image
	if image == "" {
		image = d.Name + ":dev"
	}
	b := t.AddContainer(d.Name, image)
	if d.Build != "" {
		b.WithProperty("build.context", d.Build)
	}
	if len(d.Command) > 0 {
		b.WithArgs(d.Command...)
	}
	for _, ep := range d.Endpoints {
		b.WithEndpoint(ep)
	}
	for _, env := range d.Environment {
		b.WithEnvValue(env.Key, env.Value)
	}
	for _, v := range d.Volumes {
		if v.ReadOnly {
			b.WithReadOnlyVolume(v.Source, v.Target)
		} else {
			b.WithVolume(v.Source, v.Target)
		}
	}
	for _, dep := range d.DependsOn {
		b.WaitForName(dep)
	}
	for _, p := range d.Properties {
		b.WithProperty(p.Key, p.Value)
	}
	if d.HealthCheck != nil {
		b.WithHealthCheck(d.HealthCheck.Endpoint, d.HealthCheck.Path)
	}
	return b
}
