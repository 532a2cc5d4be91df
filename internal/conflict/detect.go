// Package conflict detects divergence between local and server versions of
// a task and merges them.
//
// Policy: tags are unioned; dependencies are never merged automatically;
// every other field is last-writer-wins per field by UpdatedAt, with ties
// going to the server.
package conflict

import (
	"slices"
	"time"

	"github.com/fitz/tasksync/internal/models"
)

// Compared task fields.
const (
	FieldTitle        = "title"
	FieldDescription  = "description"
	FieldStatus       = "status"
	FieldPriority     = "priority"
	FieldAssignee     = "assignee"
	FieldStartTime    = "startTime"
	FieldEndTime      = "endTime"
	FieldTags         = "tags"
	FieldDependencies = "dependencies"
	FieldParentID     = "parentId"
)

// Fields lists the compared fields in detection order.
var Fields = []string{
	FieldTitle, FieldDescription, FieldStatus, FieldPriority, FieldAssignee,
	FieldStartTime, FieldEndTime, FieldTags, FieldDependencies, FieldParentID,
}

// Detect returns one entry per differing field. It returns nil when the
// versions match.
func Detect(local, server models.Task) []models.FieldConflict {
	if local.Version == server.Version {
		return nil
	}
	return Diff(local, server)
}

// Diff returns one entry per differing field whatever the versions say.
func Diff(local, server models.Task) []models.FieldConflict {
	var out []models.FieldConflict
	for _, f := range Fields {
		lv, sv := fieldValue(local, f), fieldValue(server, f)
		if equalValues(f, lv, sv) {
			continue
		}
		out = append(out, models.FieldConflict{
			Field:         f,
			LocalValue:    lv,
			ServerValue:   sv,
			AutoMergeable: f != FieldDependencies,
		})
	}
	return out
}

func fieldValue(t models.Task, field string) any {
	switch field {
	case FieldTitle:
		return t.Title
	case FieldDescription:
		return t.Description
	case FieldStatus:
		return t.Status
	case FieldPriority:
		return t.Priority
	case FieldAssignee:
		return t.Assignee
	case FieldStartTime:
		return t.StartTime
	case FieldEndTime:
		return t.EndTime
	case FieldTags:
		return t.Tags
	case FieldDependencies:
		return t.Dependencies
	case FieldParentID:
		return t.ParentID
	}
	return nil
}

func equalValues(field string, a, b any) bool {
	switch field {
	case FieldTags, FieldDependencies:
		return sameSet(a.([]string), b.([]string))
	case FieldStartTime, FieldEndTime:
		at, bt := a.(*time.Time), b.(*time.Time)
		if at == nil || bt == nil {
			return at == bt
		}
		return at.Equal(*bt)
	}
	return a == b
}

func sameSet(a, b []string) bool {
	a, b = models.UniqueStrings(a), models.UniqueStrings(b)
	if len(a) != len(b) {
		return false
	}
	for _, v := range a {
		if !slices.Contains(b, v) {
			return false
		}
	}
	return true
}

// Side picks which snapshot a field is taken from.
type Side string

const (
	SideLocal  Side = "local"
	SideServer Side = "server"
)

// newerSide applies last-writer-wins; ties keep the server.
func newerSide(local, server models.Task) Side {
	if local.UpdatedAt.After(server.UpdatedAt) {
		return SideLocal
	}
	return SideServer
}

// merge builds a record starting from server and overlays fields. pick
// decides every non-tag field; tags are unioned when unionTags is set.
func merge(local, server models.Task, pick func(field string) Side, unionTags bool) models.Task {
	out := server.Clone()
	for _, f := range Fields {
		if f == FieldTags && unionTags {
			out.Tags = models.UniqueStrings(append(slices.Clone(server.Tags), local.Tags...))
			continue
		}
		if pick(f) == SideLocal {
			copyField(&out, local, f)
		}
	}
	out.IsTemp = false
	return out
}

func copyField(dst *models.Task, src models.Task, field string) {
	switch field {
	case FieldTitle:
		dst.Title = src.Title
	case FieldDescription:
		dst.Description = src.Description
	case FieldStatus:
		dst.Status = src.Status
	case FieldPriority:
		dst.Priority = src.Priority
	case FieldAssignee:
		dst.Assignee = src.Assignee
	case FieldStartTime:
		dst.StartTime = src.Clone().StartTime
	case FieldEndTime:
		dst.EndTime = src.Clone().EndTime
	case FieldTags:
		dst.Tags = slices.Clone(src.Tags)
	case FieldDependencies:
		dst.Dependencies = slices.Clone(src.Dependencies)
	case FieldParentID:
		dst.ParentID = src.ParentID
	}
}

// AutoMerge unions tags and takes every other field from the more recently
// updated side. Dependencies follow the same rule here; callers only
// auto-merge conflicts whose dependency sets agree.
func AutoMerge(local, server models.Task) models.Task {
	side := newerSide(local, server)
	return merge(local, server, func(string) Side { return side }, true)
}
