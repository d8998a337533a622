package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alfredjeanlab/panels/internal/events"
	"github.com/alfredjeanlab/panels/internal/idgen"
	"github.com/alfredjeanlab/panels/internal/model"
	"github.com/alfredjeanlab/panels/internal/store"
)

// createComponentInput holds the body of POST /api/{type}.
type createComponentInput struct {
	Name     string          `json:"name" validate:"max=200"`
	Position model.Position  `json:"position"`
	Size     model.Size      `json:"size"`
	Fields   json.RawMessage `json:"fields"`
}

// updateComponentInput holds the body of PUT /api/{type}/{id}. Absent keys
// are left unchanged; a null value inside fields removes that field.
type updateComponentInput struct {
	Name     *string         `json:"name,omitempty" validate:"omitnil,max=200"`
	Position *model.Position `json:"position,omitempty"`
	Size     *model.Size     `json:"size,omitempty"`
	Fields   map[string]any  `json:"fields,omitempty"`
}

type positionInput struct {
	X *float64 `json:"x" validate:"required"`
	Y *float64 `json:"y" validate:"required"`
}

type sizeInput struct {
	Width  *float64 `json:"width" validate:"required,gte=0"`
	Height *float64 `json:"height" validate:"required,gte=0"`
}

// mapIconInput holds the body of POST /api/maps/{mapId}/icons.
type mapIconInput struct {
	ID   string  `json:"id"`
	Name string  `json:"name" validate:"max=200"`
	Icon string  `json:"icon"`
	Lat  float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lng  float64 `json:"lng" validate:"gte=-180,lte=180"`
}

func parseKind(s string) (model.Kind, error) {
	k := model.Kind(s)
	if !k.IsValid() {
		return "", errUnknownKind
	}
	return k, nil
}

var errUnknownKind = errors.New("unknown component type")

// createComponent validates input, persists a new component and publishes a
// ComponentCreated event. Returns inputError for validation failures.
func (s *PanelsServer) createComponent(ctx context.Context, kind model.Kind, in createComponentInput, actor string) (*model.Component, error) {
	if err := checkInput(in); err != nil {
		return nil, err
	}

	id, err := idgen.ForKind(kind)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ID: %w", err)
	}
	now := time.Now().UTC()
	c := &model.Component{
		ID:        id,
		Kind:      kind,
		Name:      in.Name,
		Position:  in.Position,
		Size:      in.Size,
		Fields:    in.Fields,
		CreatedBy: actor,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if string(c.Fields) == "null" {
		c.Fields = nil
	}
	if err := model.ValidateComponent(c); err != nil {
		return nil, inputError("invalid component: " + err.Error())
	}

	if err := s.store.CreateComponent(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to create component: %w", err)
	}

	s.recordAndPublish(ctx, events.TopicComponentCreated, events.ComponentCreated{Component: c})
	return c, nil
}

// updateComponent applies a partial update and publishes ComponentUpdated
// with the changed keys.
func (s *PanelsServer) updateComponent(ctx context.Context, kind model.Kind, id string, in updateComponentInput) (*model.Component, error) {
	if err := checkInput(in); err != nil {
		return nil, err
	}

	c, err := s.store.GetComponent(ctx, kind, id)
	if err != nil {
		return nil, err
	}

	changes := make(map[string]any)
	if in.Name != nil {
		c.Name = *in.Name
		changes["name"] = *in.Name
	}
	if in.Position != nil {
		c.Position = *in.Position
		changes["position"] = *in.Position
	}
	if in.Size != nil {
		c.Size = *in.Size
		changes["size"] = *in.Size
	}
	if len(in.Fields) > 0 {
		merged, err := model.MergeFields(c.Fields, in.Fields)
		if err != nil {
			return nil, fmt.Errorf("merge fields: %w", err)
		}
		c.Fields = merged
		changes["fields"] = in.Fields
	}

	if err := model.ValidateComponent(c); err != nil {
		return nil, inputError("invalid component: " + err.Error())
	}
	if len(changes) == 0 {
		return c, nil
	}

	c.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateComponent(ctx, c); err != nil {
		return nil, err
	}

	s.recordAndPublish(ctx, events.TopicComponentUpdated, events.ComponentUpdated{Component: c, Changes: changes})
	return c, nil
}

func (s *PanelsServer) setPosition(ctx context.Context, kind model.Kind, id string, in positionInput) (*model.Component, error) {
	if err := checkInput(in); err != nil {
		return nil, err
	}
	pos := model.Position{X: *in.X, Y: *in.Y}
	c, err := s.store.SetPosition(ctx, kind, id, pos)
	if err != nil {
		return nil, err
	}
	s.recordAndPublish(ctx, events.TopicComponentUpdated, events.ComponentUpdated{
		Component: c,
		Changes:   map[string]any{"position": pos},
	})
	return c, nil
}

func (s *PanelsServer) setSize(ctx context.Context, kind model.Kind, id string, in sizeInput) (*model.Component, error) {
	if err := checkInput(in); err != nil {
		return nil, err
	}
	size := model.Size{Width: *in.Width, Height: *in.Height}
	c, err := s.store.SetSize(ctx, kind, id, size)
	if err != nil {
		return nil, err
	}
	s.recordAndPublish(ctx, events.TopicComponentUpdated, events.ComponentUpdated{
		Component: c,
		Changes:   map[string]any{"size": size},
	})
	return c, nil
}

// deleteComponent removes a component and detaches it from every dashboard
// in one transaction.
func (s *PanelsServer) deleteComponent(ctx context.Context, kind model.Kind, id string) error {
	err := s.store.RunInTransaction(ctx, func(tx store.Store) error {
		if err := tx.DetachEverywhere(ctx, id); err != nil {
			return fmt.Errorf("detach component: %w", err)
		}
		return tx.DeleteComponent(ctx, kind, id)
	})
	if err != nil {
		return err
	}
	s.recordAndPublish(ctx, events.TopicComponentDeleted, events.ComponentDeleted{Kind: kind, ID: id})
	return nil
}

// addMapIcon appends an icon to a map component's icon list. The icon gets a
// generated id when none is supplied; a duplicate id is rejected.
func (s *PanelsServer) addMapIcon(ctx context.Context, mapID string, in mapIconInput) (*model.Component, error) {
	if err := checkInput(in); err != nil {
		return nil, err
	}
	if in.ID == "" {
		id, err := idgen.Icon()
		if err != nil {
			return nil, fmt.Errorf("failed to generate ID: %w", err)
		}
		in.ID = id
	}

	return s.modifyMapIcons(ctx, mapID, func(icons []model.MapIcon) ([]model.MapIcon, error) {
		for _, ic := range icons {
			if ic.ID == in.ID {
				return nil, inputError("icon " + in.ID + " already exists")
			}
		}
		return append(icons, model.MapIcon{ID: in.ID, Name: in.Name, Icon: in.Icon, Lat: in.Lat, Lng: in.Lng}), nil
	})
}

// removeMapIcon drops the icon with iconID from a map component.
func (s *PanelsServer) removeMapIcon(ctx context.Context, mapID, iconID string) (*model.Component, error) {
	if iconID == "" {
		return nil, inputError("icon id is required")
	}

	return s.modifyMapIcons(ctx, mapID, func(icons []model.MapIcon) ([]model.MapIcon, error) {
		kept := icons[:0]
		for _, ic := range icons {
			if ic.ID != iconID {
				kept = append(kept, ic)
			}
		}
		if len(kept) == len(icons) {
			return nil, store.ErrNotFound
		}
		return kept, nil
	})
}

// modifyMapIcons rewrites a map's icon list through the store's
// read-modify-write so concurrent icon edits never overwrite each other.
func (s *PanelsServer) modifyMapIcons(ctx context.Context, mapID string, edit func([]model.MapIcon) ([]model.MapIcon, error)) (*model.Component, error) {
	var icons []model.MapIcon
	c, err := s.store.ModifyComponent(ctx, model.KindMaps, mapID, func(c *model.Component) error {
		next, err := edit(model.MapIcons(c))
		if err != nil {
			return err
		}
		if next == nil {
			next = []model.MapIcon{}
		}
		merged, err := model.MergeFields(c.Fields, map[string]any{"icons": next})
		if err != nil {
			return fmt.Errorf("merge fields: %w", err)
		}
		c.Fields = merged
		c.UpdatedAt = time.Now().UTC()
		icons = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.recordAndPublish(ctx, events.TopicComponentUpdated, events.ComponentUpdated{
		Component: c,
		Changes:   map[string]any{"icons": icons},
	})
	return c, nil
}
