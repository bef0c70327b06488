package attendance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"campustrack/internal/directory"
	"campustrack/internal/faceclient"
)

// FaceResult is the per-face outcome returned to the client, with the
// recognition scores passed through for display.
type FaceResult struct {
	StudentID       string    `json:"student_id"`
	FirstName       string    `json:"first_name"`
	LastName        string    `json:"last_name"`
	Status          Status    `json:"status"`
	Time            string    `json:"time"`
	BBox            []float64 `json:"bbox,omitempty"`
	MatchScore      *float64  `json:"match_score,omitempty"`
	SpoofStatus     string    `json:"spoof_status,omitempty"`
	SpoofConfidence *float64  `json:"spoof_confidence,omitempty"`
	RealProb        *float64  `json:"real_prob,omitempty"`
	SpoofProb       *float64  `json:"spoof_prob,omitempty"`
}

// BatchResult is the outcome of one recognition batch.
type BatchResult struct {
	Logged              []FaceResult `json:"logged"`
	Count               int          `json:"count"`
	InstructorDetected  bool         `json:"instructor_detected"`
	InstructorID        string       `json:"instructor_id,omitempty"`
	InstructorFirstName string       `json:"instructor_first_name,omitempty"`
	InstructorLastName  string       `json:"instructor_last_name,omitempty"`
	SubjectCode         string       `json:"subject_code,omitempty"`
	SubjectTitle        string       `json:"subject_title,omitempty"`
	Message             string       `json:"message,omitempty"`
}

// Recognize reconciles one batch of camera faces into attendance state. The
// recognition call happens before any store mutation, so an upstream failure
// aborts the batch cleanly. Reconciliation itself runs under the class lock.
func (s *Service) Recognize(ctx context.Context, classID string, faces []json.RawMessage) (*BatchResult, error) {
	started := time.Now()
	defer func() { recognizeDuration.Observe(time.Since(started).Seconds()) }()

	cls, err := s.dir.Class(ctx, classID)
	if err != nil {
		return nil, err
	}

	roster, err := s.dir.RegisteredFaces(ctx, cls)
	if err != nil {
		return nil, err
	}
	if len(roster) == 0 {
		return &BatchResult{
			Logged:  []FaceResult{},
			Message: "No registered faces for this class",
		}, nil
	}

	res, err := s.faces.RecognizeMulti(ctx, faces, roster)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFaceService, err)
	}

	mu := s.classLock(classID)
	mu.Lock()
	defer mu.Unlock()

	lg, err := s.resolveLog(ctx, cls)
	if err != nil {
		return nil, err
	}

	// A marker tagged with an older log is stale; rearm it for this log.
	mark, err := s.cache.Instructor(ctx, classID)
	if err != nil {
		return nil, err
	}
	if mark.LogID != lg.ID {
		mark = InstructorMark{LogID: lg.ID}
		if err := s.cache.SetInstructor(ctx, classID, mark); err != nil {
			return nil, err
		}
	}

	out := &BatchResult{
		Logged:              []FaceResult{},
		InstructorDetected:  mark.Detected,
		InstructorID:        cls.InstructorID,
		InstructorFirstName: cls.InstructorFirstName,
		InstructorLastName:  cls.InstructorLastName,
		SubjectCode:         cls.SubjectCode,
		SubjectTitle:        cls.SubjectTitle,
	}
	if len(res.Recognized) == 0 {
		return out, nil
	}

	now := s.now().In(s.loc)
	clock := now.Format(clockLayout)
	readable := now.Format(readableLayout)

	for _, face := range res.Recognized {
		if face.UserID == "" {
			continue
		}

		if face.IsInstructor || face.UserID == cls.InstructorID {
			if s.spoofed(face) {
				facesProcessed.WithLabelValues(outcomeSpoofRejected).Inc()
				s.log.Warn("instructor sighting rejected",
					"class_id", classID, "instructor_id", cls.InstructorID,
					"spoof_status", face.SpoofStatus, "spoof_confidence", face.SpoofConfidence)
				continue
			}
			if err := s.cache.SetInstructor(ctx, classID, InstructorMark{LogID: lg.ID, Detected: true}); err != nil {
				return nil, err
			}
			out.InstructorDetected = true
			facesProcessed.WithLabelValues(outcomeInstructor).Inc()
			continue
		}

		stu, err := s.dir.Student(ctx, face.UserID)
		if err != nil {
			if errors.Is(err, directory.ErrNotFound) {
				facesProcessed.WithLabelValues(outcomeUnknown).Inc()
				continue
			}
			return nil, err
		}

		result := FaceResult{
			StudentID:       stu.StudentID,
			FirstName:       stu.FirstName,
			LastName:        stu.LastName,
			Time:            readable,
			BBox:            face.BBox,
			MatchScore:      face.MatchScore,
			SpoofStatus:     face.SpoofStatus,
			SpoofConfidence: face.SpoofConfidence,
			RealProb:        face.RealProb,
			SpoofProb:       face.SpoofProb,
		}

		// Cache hit: already decided for this log, nothing to write.
		cached, err := s.cache.Student(ctx, classID, face.UserID)
		if err != nil {
			return nil, err
		}
		if cached != nil && cached.LogID == lg.ID {
			result.Status = cached.Status
			out.Logged = append(out.Logged, result)
			facesProcessed.WithLabelValues(outcomeCacheHit).Inc()
			continue
		}

		// Persisted duplicate: adopt the recorded status and repair the
		// cache without writing a second entry.
		existing, err := s.repo.Entry(ctx, lg.ID, stu.StudentID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			if err := s.cache.PutStudent(ctx, classID, face.UserID, CachedStatus{Status: existing.Status, LogID: lg.ID}); err != nil {
				return nil, err
			}
			result.Status = existing.Status
			out.Logged = append(out.Logged, result)
			facesProcessed.WithLabelValues(outcomePersisted).Inc()
			continue
		}

		// New event.
		status := s.statusFor(lg.StartTime, now)
		appended, err := s.repo.AppendIfAbsent(ctx, lg.ID, Entry{
			StudentID: stu.StudentID,
			FirstName: stu.FirstName,
			LastName:  stu.LastName,
			Status:    status,
			Time:      clock,
		}, clock)
		if err != nil {
			return nil, err
		}
		if !appended {
			// A concurrent writer on another instance beat us to it; adopt
			// its status.
			if winner, err := s.repo.Entry(ctx, lg.ID, stu.StudentID); err == nil && winner != nil {
				status = winner.Status
			}
		}
		if err := s.cache.PutStudent(ctx, classID, face.UserID, CachedStatus{Status: status, LogID: lg.ID}); err != nil {
			return nil, err
		}
		result.Status = status
		out.Logged = append(out.Logged, result)
		facesProcessed.WithLabelValues(outcomeNew).Inc()
	}

	out.Count = len(out.Logged)
	s.log.Info("batch reconciled",
		"class_id", classID, "logged", out.Count,
		"instructor_detected", out.InstructorDetected,
		"elapsed", time.Since(started))
	return out, nil
}

// resolveLog returns the class's open log, lazily opening one when the
// pointer is missing or dangling. Recognition can arrive before an explicit
// start or after a stop; the lazy log keeps those frames from being lost.
// The class's session window fields are left untouched.
func (s *Service) resolveLog(ctx context.Context, cls *directory.Class) (*Log, error) {
	if cls.ActiveLogID != "" {
		lg, err := s.repo.Get(ctx, cls.ActiveLogID)
		if err == nil {
			return lg, nil
		}
		if !errors.Is(err, ErrLogNotFound) {
			return nil, err
		}
	}

	now := s.now().In(s.loc)
	lg := s.newLog(cls, now)
	logID, err := s.repo.Create(ctx, lg)
	if err != nil {
		return nil, err
	}
	if err := s.dir.SetActiveLog(ctx, cls.ClassID, logID); err != nil {
		return nil, err
	}
	if err := s.cache.Reset(ctx, cls.ClassID); err != nil {
		return nil, err
	}
	if err := s.cache.SetInstructor(ctx, cls.ClassID, InstructorMark{LogID: logID}); err != nil {
		return nil, err
	}
	cls.ActiveLogID = logID
	s.log.Info("log opened lazily", "class_id", cls.ClassID, "log_id", logID)
	return lg, nil
}

// spoofed applies the instructor liveness gate.
func (s *Service) spoofed(face faceclient.RecognizedFace) bool {
	if face.SpoofStatus == "Spoof" {
		return true
	}
	return face.SpoofConfidence != nil && *face.SpoofConfidence < s.spoofMinConf
}

// statusFor derives Present or Late from the log's recorded start time.
// Exactly at the grace boundary is Present. An unparsable or missing start
// time defaults to Present.
func (s *Service) statusFor(startClock string, now time.Time) Status {
	start, err := time.ParseInLocation(clockLayout, startClock, s.loc)
	if err != nil {
		return StatusPresent
	}
	start = time.Date(now.Year(), now.Month(), now.Day(),
		start.Hour(), start.Minute(), start.Second(), 0, s.loc)
	if now.Sub(start) > s.lateAfter {
		return StatusLate
	}
	return StatusPresent
}
