package mockserver

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/mlvik/coursekit/internal/domain"
	infra "github.com/mlvik/coursekit/internal/infrastructure"
	"golang.org/x/crypto/bcrypt"
)

type loginPayload struct {
	Identifier string `json:"identifier" validate:"required"`
	Secret     string `json:"secret" validate:"required"`
}

func (s *Server) handleLogin(c echo.Context) error {
	payload := new(loginPayload)
	if err := c.Bind(payload); err != nil {
		return c.JSON(http.StatusBadRequest,
			infra.NewRESTStandardError(http.StatusBadRequest, "malformed login body"),
		)
	}
	if errs := s.validator.Struct(payload); errs != nil {
		return c.JSON(http.StatusUnprocessableEntity,
			infra.NewRESTValidationError(http.StatusUnprocessableEntity, "Validation failed", errs),
		)
	}

	s.mu.Lock()
	user, ok := s.users[payload.Identifier]
	s.mu.Unlock()
	if !ok || bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(payload.Secret)) != nil {
		return c.JSON(http.StatusUnauthorized,
			infra.NewRESTStandardError(http.StatusUnauthorized, "Unknown identifier or wrong secret"),
		)
	}

	sid, err := s.idGen.Generate()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.sessions[sid] = user.ID
	s.mu.Unlock()
	c.SetCookie(&http.Cookie{
		Name:     sessionCookieName,
		Value:    sid,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	token, err := s.issuer.Issue(user.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"ok":    true,
		"token": token,
		"user":  map[string]interface{}{"id": user.ID},
	})
}

// sessionUser resolve the authenticated user from the session cookie
func (s *Server) sessionUser(c echo.Context) (int64, bool) {
	cookie, err := c.Cookie(sessionCookieName)
	if err != nil {
		return 0, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	uid, ok := s.sessions[cookie.Value]
	return uid, ok
}

// handleToken reissue a security token for a cookie-authenticated session.
// Serves the GET token endpoints and the legacy POST refresh endpoint alike.
func (s *Server) handleToken(c echo.Context) error {
	uid, ok := s.sessionUser(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized,
			infra.NewRESTStandardError(http.StatusUnauthorized, "No session"),
		)
	}
	token, err := s.issuer.Issue(uid)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"token": token})
}

func (s *Server) handleWhoAmI(c echo.Context) error {
	uid, ok := s.sessionUser(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized,
			infra.NewRESTStandardError(http.StatusUnauthorized, "No session"),
		)
	}
	s.mu.Lock()
	identifier := ""
	for _, user := range s.users {
		if user.ID == uid {
			identifier = user.Identifier
			break
		}
	}
	s.mu.Unlock()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"id":         uid,
		"identifier": identifier,
	})
}

func (s *Server) contextUser(c echo.Context) int64 {
	if uid, ok := c.Get(contextUserKey).(int64); ok {
		return uid
	}
	return 0
}

func (s *Server) handleCourses(c echo.Context) error {
	uid := s.contextUser(c)
	mode := c.QueryParam("mode")

	s.mu.Lock()
	ownedSet := make(map[int64]bool)
	for _, id := range s.owned[uid] {
		ownedSet[id] = true
	}
	s.mu.Unlock()

	courses := make([]map[string]interface{}, 0, len(s.catalog))
	for _, course := range s.catalog {
		lessons := course.Lessons()
		entry := map[string]interface{}{
			"id":           course.ID,
			"title":        course.Title,
			"module_count": len(course.Modules),
			"lesson_count": len(lessons),
		}
		if mode != "strict" {
			entry["is_owned"] = ownedSet[course.ID]
		}
		courses = append(courses, entry)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"courses": courses})
}

func (s *Server) findCourse(id int64) *domain.CourseDetail {
	for _, course := range s.catalog {
		if course.ID == id {
			return course
		}
	}
	return nil
}

func (s *Server) handleCourseDetail(c echo.Context) error {
	courseID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest,
			infra.NewRESTStandardError(http.StatusBadRequest, "Bad course id"),
		)
	}
	course := s.findCourse(courseID)
	if course == nil {
		return c.JSON(http.StatusNotFound,
			infra.NewRESTStandardError(http.StatusNotFound, "No such course"),
		)
	}

	uid := s.contextUser(c)
	s.mu.Lock()
	set := s.progress[uid]
	s.mu.Unlock()

	detail := &domain.CourseDetail{ID: course.ID, Title: course.Title}
	for _, module := range course.Modules {
		copied := &domain.CourseModule{ID: module.ID, Title: module.Title}
		for _, lesson := range module.Lessons {
			entry := *lesson
			entry.Done = set.Has(lesson.ID)
			copied.Lessons = append(copied.Lessons, &entry)
		}
		detail.Modules = append(detail.Modules, copied)
	}
	return c.JSON(http.StatusOK, detail)
}

func (s *Server) handleProducts(c echo.Context) error {
	uid := s.contextUser(c)
	s.mu.Lock()
	ids := append([]int64{}, s.products[uid]...)
	s.mu.Unlock()
	return c.JSON(http.StatusOK, map[string]interface{}{"products": ids})
}

func (s *Server) handleProductCourses(c echo.Context) error {
	productID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest,
			infra.NewRESTStandardError(http.StatusBadRequest, "Bad product id"),
		)
	}
	s.mu.Lock()
	courseIDs := append([]int64{}, s.grants[productID]...)
	s.mu.Unlock()

	courses := make([]map[string]interface{}, 0, len(courseIDs))
	for _, id := range courseIDs {
		entry := map[string]interface{}{"id": id}
		if course := s.findCourse(id); course != nil {
			entry["title"] = course.Title
		}
		courses = append(courses, entry)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"courses": courses})
}

func (s *Server) courseSummary(uid int64, course *domain.CourseDetail) map[string]interface{} {
	s.mu.Lock()
	set := s.progress[uid]
	s.mu.Unlock()

	lessons := course.Lessons()
	entries := make([]map[string]interface{}, 0, len(lessons))
	completed := 0
	for _, lesson := range lessons {
		done := set.Has(lesson.ID)
		if done {
			completed++
		}
		entries = append(entries, map[string]interface{}{
			"id":   lesson.ID,
			"done": done,
		})
	}
	return map[string]interface{}{
		"total":     len(lessons),
		"completed": completed,
		"percent":   domain.ProgressPercent(completed, len(lessons)),
		"lessons":   entries,
	}
}

func (s *Server) handleGetProgress(c echo.Context) error {
	courseID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest,
			infra.NewRESTStandardError(http.StatusBadRequest, "Bad course id"),
		)
	}
	course := s.findCourse(courseID)
	if course == nil {
		return c.JSON(http.StatusNotFound,
			infra.NewRESTStandardError(http.StatusNotFound, "No such course"),
		)
	}
	return c.JSON(http.StatusOK, s.courseSummary(s.contextUser(c), course))
}

type progressPayload struct {
	LessonID *int64 `json:"lesson_id"`
	Done     *bool  `json:"done"`
}

func (s *Server) handleSetProgress(c echo.Context) error {
	courseID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest,
			infra.NewRESTStandardError(http.StatusBadRequest, "Bad course id"),
		)
	}
	course := s.findCourse(courseID)
	if course == nil {
		return c.JSON(http.StatusNotFound,
			infra.NewRESTStandardError(http.StatusNotFound, "No such course"),
		)
	}
	payload := new(progressPayload)
	if err := c.Bind(payload); err != nil {
		return c.JSON(http.StatusBadRequest,
			infra.NewRESTStandardError(http.StatusBadRequest, "malformed progress body"),
		)
	}
	done := true
	if payload.Done != nil {
		done = *payload.Done
	}

	uid := s.contextUser(c)
	s.mu.Lock()
	set := s.progress[uid]
	if set == nil {
		set = domain.NewCompletionSet()
		s.progress[uid] = set
	}
	target := payload.LessonID
	if target == nil {
		for _, lesson := range course.Lessons() {
			if !set.Has(lesson.ID) {
				id := lesson.ID
				target = &id
				break
			}
		}
	}
	if target == nil {
		s.mu.Unlock()
		return c.JSON(http.StatusConflict,
			infra.NewRESTStandardError(http.StatusConflict, "No pending lesson"),
		)
	}
	if done {
		set.Add(*target)
	} else {
		set.Remove(*target)
	}
	s.mu.Unlock()

	return c.JSON(http.StatusOK, s.courseSummary(uid, course))
}
