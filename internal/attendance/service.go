package attendance

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"campustrack/internal/directory"
	"campustrack/internal/faceclient"
)

// Options bundle the attendance policy knobs.
type Options struct {
	// Location buckets dates and times-of-day. Lateness is relative to the
	// log's recorded start time, not wall-clock absolutes.
	Location *time.Location
	// SessionWindow is the advisory deadline surfaced to clients on start.
	// Nothing force-closes a session at the deadline; stop is explicit.
	SessionWindow time.Duration
	// LateAfter is the grace period; strictly greater elapsed time is Late.
	LateAfter time.Duration
	// SpoofMinConf gates instructor sightings.
	SpoofMinConf float64
}

// Service owns the session lifecycle and the recognition reconciliation for
// attendance logs.
type Service struct {
	repo  Repository
	dir   directory.Repository
	cache SessionCache
	faces *faceclient.Client
	log   *slog.Logger

	loc          *time.Location
	window       time.Duration
	lateAfter    time.Duration
	spoofMinConf float64

	now func() time.Time

	// Reconciliation and the stop-session sweep are serialized per class
	// within this instance. Cross-instance exclusion is not needed: the
	// conditional append keeps concurrent writers from double-logging.
	lockMu     sync.Mutex
	classLocks map[string]*sync.Mutex
}

// NewService wires the attendance service.
func NewService(repo Repository, dir directory.Repository, cache SessionCache, faces *faceclient.Client, log *slog.Logger, opts Options) *Service {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.SessionWindow <= 0 {
		opts.SessionWindow = 30 * time.Minute
	}
	if opts.LateAfter <= 0 {
		opts.LateAfter = 15 * time.Minute
	}
	if opts.SpoofMinConf <= 0 {
		opts.SpoofMinConf = 0.70
	}
	return &Service{
		repo:         repo,
		dir:          dir,
		cache:        cache,
		faces:        faces,
		log:          log,
		loc:          opts.Location,
		window:       opts.SessionWindow,
		lateAfter:    opts.LateAfter,
		spoofMinConf: opts.SpoofMinConf,
		now:          time.Now,
		classLocks:   make(map[string]*sync.Mutex),
	}
}

func (s *Service) classLock(classID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	mu, ok := s.classLocks[classID]
	if !ok {
		mu = &sync.Mutex{}
		s.classLocks[classID] = mu
	}
	return mu
}

// SessionInfo describes a freshly opened session.
type SessionInfo struct {
	ClassID   string `json:"class_id"`
	LogID     string `json:"log_id"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

// StartSession opens a new attendance log for the class and arms the
// advisory session window. Any stale session state is cleared first.
func (s *Service) StartSession(ctx context.Context, classID, instructorID string) (*SessionInfo, error) {
	instr, err := s.dir.Instructor(ctx, instructorID)
	if err != nil {
		return nil, err
	}
	if !instr.Registered {
		return nil, ErrInstructorNotRegistered
	}
	cls, err := s.dir.Class(ctx, classID)
	if err != nil {
		return nil, err
	}

	mu := s.classLock(classID)
	mu.Lock()
	defer mu.Unlock()

	if err := s.dir.ResetSession(ctx, classID); err != nil {
		return nil, err
	}
	if err := s.cache.Reset(ctx, classID); err != nil {
		return nil, err
	}

	now := s.now().In(s.loc)
	lg := s.newLog(cls, now)
	lg.InstructorID = instructorID
	lg.InstructorFirstName = instr.FirstName
	lg.InstructorLastName = instr.LastName

	logID, err := s.repo.Create(ctx, lg)
	if err != nil {
		return nil, err
	}

	end := now.Add(s.window)
	if err := s.dir.ActivateSession(ctx, classID, instructorID, now, end, logID); err != nil {
		return nil, err
	}
	if err := s.cache.SetInstructor(ctx, classID, InstructorMark{LogID: logID}); err != nil {
		return nil, err
	}

	sessionsStarted.Inc()
	s.log.Info("session started", "class_id", classID, "log_id", logID, "instructor_id", instructorID)

	return &SessionInfo{
		ClassID:   classID,
		LogID:     logID,
		StartTime: now.Format(clockLayout),
		EndTime:   end.Format(clockLayout),
	}, nil
}

// StopSession closes the class's open log, sweeps absentees and clears the
// session cache. A second stop fails with ErrNoActiveSession and appends
// nothing.
func (s *Service) StopSession(ctx context.Context, classID string) (string, int, error) {
	mu := s.classLock(classID)
	mu.Lock()
	defer mu.Unlock()

	// Read the pointer under the lock so a concurrent stop that already
	// cleared it is observed here.
	cls, err := s.dir.Class(ctx, classID)
	if err != nil {
		return "", 0, err
	}
	if cls.ActiveLogID == "" {
		return "", 0, ErrNoActiveSession
	}

	now := s.now().In(s.loc)
	clock := now.Format(clockLayout)

	if err := s.dir.CloseSession(ctx, classID, now); err != nil {
		return "", 0, err
	}

	lg, err := s.repo.Get(ctx, cls.ActiveLogID)
	if err != nil {
		return "", 0, err
	}
	if err := s.repo.SetEndTime(ctx, lg.ID, clock); err != nil {
		return "", 0, err
	}

	absent := 0
	for _, enr := range cls.Students {
		if lg.HasStudent(enr.StudentID) {
			continue
		}
		appended, err := s.repo.AppendIfAbsent(ctx, lg.ID, Entry{
			StudentID: enr.StudentID,
			FirstName: enr.FirstName,
			LastName:  enr.LastName,
			Status:    StatusAbsent,
			Time:      clock,
		}, "")
		if err != nil {
			return "", 0, err
		}
		if appended {
			absent++
		}
	}

	if err := s.cache.Reset(ctx, classID); err != nil {
		return "", 0, err
	}

	sessionsStopped.Inc()
	absenteesMarked.Add(float64(absent))
	s.log.Info("session stopped", "class_id", classID, "log_id", lg.ID, "absent", absent)

	return lg.ID, absent, nil
}

// ActiveSession returns the class with an open session. A non-empty
// instructorID scopes the lookup strictly to that instructor; auto-detection
// of any active class happens only when no instructor is given. Returns nil
// when nothing matches.
func (s *Service) ActiveSession(ctx context.Context, instructorID string) (*directory.Class, error) {
	return s.dir.ActiveClass(ctx, instructorID)
}

// ExcuseRequest identifies one entry to amend.
type ExcuseRequest struct {
	StudentID    string
	ClassID      string
	Date         string
	Reason       string
	InstructorID string
}

// MarkExcused rewrites an existing entry's status to Excused. A student can
// not be excused before being logged at all; a missing entry is
// ErrNoMatchingEntry.
func (s *Service) MarkExcused(ctx context.Context, req ExcuseRequest) error {
	date := s.parseDate(req.Date)
	actor := req.InstructorID
	if actor == "" {
		actor = "Unknown"
	}
	amended, err := s.repo.MarkExcused(ctx, req.ClassID, req.StudentID, date, req.Reason, actor, s.now().In(s.loc))
	if err != nil {
		return err
	}
	if !amended {
		return fmt.Errorf("student %s on %s: %w", req.StudentID, date, ErrNoMatchingEntry)
	}
	s.log.Info("entry excused", "class_id", req.ClassID, "student_id", req.StudentID, "date", date, "by", actor)
	return nil
}

// AbsentStudent identifies one student for manual absent marking.
type AbsentStudent struct {
	StudentID string `json:"student_id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// MarkAbsent appends an Absent entry for each listed student not already
// logged for the class and date; students already logged are left untouched.
// A log for the date is created when none exists.
func (s *Service) MarkAbsent(ctx context.Context, classID string, students []AbsentStudent, dateStr string) (int, error) {
	cls, err := s.dir.Class(ctx, classID)
	if err != nil {
		return 0, err
	}
	date := s.parseDate(dateStr)
	now := s.now().In(s.loc)
	clock := now.Format(clockLayout)

	mu := s.classLock(classID)
	mu.Lock()
	defer mu.Unlock()

	lg, err := s.repo.FindByClassDate(ctx, classID, date)
	if err != nil {
		return 0, err
	}
	if lg == nil {
		fresh := s.newLog(cls, now)
		fresh.Date = date
		if _, err := s.repo.Create(ctx, fresh); err != nil {
			return 0, err
		}
		lg = fresh
	}

	marked := 0
	for _, stu := range students {
		if stu.StudentID == "" {
			continue
		}
		appended, err := s.repo.AppendIfAbsent(ctx, lg.ID, Entry{
			StudentID: stu.StudentID,
			FirstName: stu.FirstName,
			LastName:  stu.LastName,
			Status:    StatusAbsent,
			Time:      clock,
		}, "")
		if err != nil {
			return marked, err
		}
		if appended {
			marked++
		}
	}
	return marked, nil
}

// LogRequest is one manual attendance submission.
type LogRequest struct {
	ClassID   string
	StudentID string
	FirstName string
	LastName  string
	Date      string
	// Status overrides derivation when set. Without it the status comes
	// from the log's start time, and submissions past the session window
	// are rejected.
	Status Status
}

// LogAttendance records one student manually, outside the camera flow. The
// entry lands in the log for the class and date, which is created when
// missing. A student already logged keeps their recorded status.
func (s *Service) LogAttendance(ctx context.Context, req LogRequest) (*Entry, error) {
	cls, err := s.dir.Class(ctx, req.ClassID)
	if err != nil {
		return nil, err
	}
	date := s.parseDate(req.Date)
	now := s.now().In(s.loc)

	mu := s.classLock(req.ClassID)
	mu.Lock()
	defer mu.Unlock()

	lg, err := s.repo.FindByClassDate(ctx, req.ClassID, date)
	if err != nil {
		return nil, err
	}
	if lg == nil {
		fresh := s.newLog(cls, now)
		fresh.Date = date
		if _, err := s.repo.Create(ctx, fresh); err != nil {
			return nil, err
		}
		lg = fresh
	}

	status := req.Status
	if status == "" {
		if start, err := time.ParseInLocation(clockLayout, lg.StartTime, s.loc); err == nil {
			start = time.Date(now.Year(), now.Month(), now.Day(),
				start.Hour(), start.Minute(), start.Second(), 0, s.loc)
			if now.Sub(start) > s.window {
				return nil, fmt.Errorf("log %s: %w", lg.ID, ErrPastCutoff)
			}
		}
		status = s.statusFor(lg.StartTime, now)
	}

	entry := Entry{
		StudentID: req.StudentID,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Status:    status,
		Time:      now.Format(clockLayout),
	}
	appended, err := s.repo.AppendIfAbsent(ctx, lg.ID, entry, "")
	if err != nil {
		return nil, err
	}
	if !appended {
		existing, err := s.repo.Entry(ctx, lg.ID, req.StudentID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
	}
	s.log.Info("attendance logged manually",
		"class_id", req.ClassID, "student_id", req.StudentID, "status", status)
	return &entry, nil
}

// HasLogged reports whether the student already has an entry for the class
// and date.
func (s *Service) HasLogged(ctx context.Context, classID, studentID, dateStr string) (bool, error) {
	return s.repo.HasLogged(ctx, classID, studentID, s.parseDate(dateStr))
}

// SessionsByClass lists all logs recorded for a class.
func (s *Service) SessionsByClass(ctx context.Context, classID string) ([]Log, error) {
	return s.repo.ListByClass(ctx, classID)
}

// Sessions lists all logs carrying semester and school-year metadata.
func (s *Service) Sessions(ctx context.Context) ([]Log, error) {
	return s.repo.ListTagged(ctx)
}

// newLog builds a log document with denormalized class metadata.
func (s *Service) newLog(cls *directory.Class, now time.Time) *Log {
	return &Log{
		ClassID:             cls.ClassID,
		Date:                now.Format(dateLayout),
		StartTime:           now.Format(clockLayout),
		Students:            []Entry{},
		Course:              cls.Course,
		Section:             cls.Section,
		Semester:            cls.Semester,
		SchoolYear:          cls.SchoolYear,
		YearLevel:           cls.YearLevel,
		SubjectCode:         cls.SubjectCode,
		SubjectTitle:        cls.SubjectTitle,
		InstructorID:        cls.InstructorID,
		InstructorFirstName: cls.InstructorFirstName,
		InstructorLastName:  cls.InstructorLastName,
	}
}

// parseDate falls back to today (in the configured location) on empty or
// malformed input.
func (s *Service) parseDate(dateStr string) string {
	if dateStr != "" {
		if t, err := time.ParseInLocation(dateLayout, dateStr, s.loc); err == nil {
			return t.Format(dateLayout)
		}
	}
	return s.now().In(s.loc).Format(dateLayout)
}
