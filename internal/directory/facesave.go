package directory

import (
	"context"
	"encoding/json"
	"fmt"

	"campustrack/internal/queue"
)

// ApplyFaceSave decodes a queued enrollment write and persists it. Messages
// of other types are ignored.
func ApplyFaceSave(ctx context.Context, repo Repository, msg queue.Message) error {
	if msg.Type != FaceSaveType {
		return nil
	}
	var save FaceSaveMessage
	if err := json.Unmarshal(msg.Body, &save); err != nil {
		return fmt.Errorf("decode face save: %w", err)
	}
	if save.ID == "" {
		return fmt.Errorf("face save missing id")
	}
	switch save.Kind {
	case "student":
		return repo.SaveStudentFace(ctx, save.ID, save.Data)
	case "instructor":
		return repo.SaveInstructorFace(ctx, save.ID, save.Data)
	default:
		return fmt.Errorf("face save unknown kind %q", save.Kind)
	}
}
