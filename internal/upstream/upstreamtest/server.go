// Package upstreamtest runs an in-memory stand-in for the upstream REST
// service. Sessions are tracked with a "token" cookie holding the user id.
package upstreamtest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/campusdesk/campusdesk/internal/authz"
	"github.com/campusdesk/campusdesk/internal/upstream"
)

const tokenCookie = "token"

type account struct {
	user     authz.User
	password string
}

// Server is a fake upstream API.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	nextID   int
	accounts map[string]*account
	order    []string
	students map[string]upstream.Student
	grants   map[string]authz.CapabilityGrant
	revoked  map[string]bool
	logouts  int
	failing  map[string]int
}

// New starts a fake upstream closed with t.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		accounts: make(map[string]*account),
		students: make(map[string]upstream.Student),
		grants:   make(map[string]authz.CapabilityGrant),
		revoked:  make(map[string]bool),
		failing:  make(map[string]int),
	}
	s.Server = httptest.NewServer(s.routes())
	t.Cleanup(s.Close)
	return s
}

// Client returns an upstream client aimed at the fake.
func (s *Server) Client(t testing.TB) *upstream.Client {
	t.Helper()
	client, err := upstream.NewClient(s.URL, 5*time.Second)
	if err != nil {
		t.Fatalf("upstream client: %v", err)
	}
	return client
}

// AddUser registers an account and returns its id.
func (s *Server) AddUser(name, email, password string, role authz.Role) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(authz.User{Name: name, Email: email, Role: role, IsActive: true}, password)
}

// SetGrant assigns a capability grant to a staff account.
func (s *Server) SetGrant(staffID string, grant authz.CapabilityGrant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grants[staffID] = grant
}

// AddStudent stores a student record and returns its id.
func (s *Server) AddStudent(st upstream.Student) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	st.ID = "st" + strconv.Itoa(s.nextID)
	s.students[st.ID] = st
	return st.ID
}

// Student returns a stored student record.
func (s *Server) Student(id string) (upstream.Student, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.students[id]
	return st, ok
}

// Students reports the number of stored student records.
func (s *Server) Students() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.students)
}

// User returns a stored account.
func (s *Server) User(id string) (authz.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return authz.User{}, false
	}
	return a.user, true
}

// Grant returns the grant stored for staffID.
func (s *Server) Grant(staffID string) (authz.CapabilityGrant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.grants[staffID]
	return g, ok
}

// Revoke ends every upstream session of userID.
func (s *Server) Revoke(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked[userID] = true
}

// FailNext makes the next n requests to path answer with a 500.
func (s *Server) FailNext(path string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing[path] = n
}

// Logouts reports how many logout calls were received.
func (s *Server) Logouts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logouts
}

func (s *Server) addLocked(u authz.User, password string) string {
	s.nextID++
	u.ID = "u" + strconv.Itoa(s.nextID)
	u.CreatedAt = time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	s.accounts[u.ID] = &account{user: u, password: password}
	s.order = append(s.order, u.ID)
	return u.ID
}

type wireUser struct {
	ID        string     `json:"_id"`
	Name      string     `json:"name"`
	Email     string     `json:"email"`
	Role      authz.Role `json:"role"`
	IsActive  bool       `json:"isActive"`
	CreatedAt time.Time  `json:"createdAt"`
}

func toWire(u authz.User) wireUser {
	return wireUser{ID: u.ID, Name: u.Name, Email: u.Email, Role: u.Role, IsActive: u.IsActive, CreatedAt: u.CreatedAt}
}

type wirePermission struct {
	ID          string                `json:"_id"`
	StaffID     any                   `json:"staffId"`
	Permissions authz.CapabilityGrant `json:"permissions"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func message(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.faults)
	r.Post("/auth/login", s.login)
	r.Post("/auth/logout", s.logout)
	r.Group(func(r chi.Router) {
		r.Use(s.requireSession)
		r.Get("/auth/me", s.me)
		r.Get("/staff-permissions/my-permissions", s.myPermissions)
		r.Get("/staff-permissions", s.listPermissions)
		r.Post("/staff-permissions", s.assignPermission)
		r.Get("/staff-permissions/{staffID}", s.getPermission)
		r.Put("/staff-permissions/{staffID}", s.updatePermission)
		r.Delete("/staff-permissions/{staffID}", s.deletePermission)
		r.Get("/users/getall/{role}", s.listUsers)
		r.Post("/users/add", s.addUser)
		r.Put("/users/update/{id}", s.updateUser)
		r.Delete("/users/delete/{id}", s.deleteUser)
		r.Get("/students", s.listStudents)
		r.Post("/students", s.createStudent)
		r.Get("/students/{id}", s.getStudent)
		r.Put("/students/{id}", s.updateStudent)
		r.Delete("/students/{id}", s.deleteStudent)
	})
	return r
}

func (s *Server) faults(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		n := s.failing[r.URL.Path]
		if n > 0 {
			s.failing[r.URL.Path] = n - 1
		}
		s.mu.Unlock()
		if n > 0 {
			message(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type userKey struct{}

func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie(tokenCookie)
		if err != nil {
			message(w, http.StatusUnauthorized, "Not authenticated")
			return
		}
		s.mu.Lock()
		a, ok := s.accounts[c.Value]
		revoked := s.revoked[c.Value]
		s.mu.Unlock()
		if !ok || revoked {
			message(w, http.StatusUnauthorized, "Session expired")
			return
		}
		next.ServeHTTP(w, r.WithContext(contextWithUser(r, a.user)))
	})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		message(w, http.StatusBadRequest, "Invalid request")
		return
	}
	s.mu.Lock()
	var found *account
	for _, id := range s.order {
		if a := s.accounts[id]; a != nil && a.user.Email == body.Email && a.password == body.Password {
			found = a
			break
		}
	}
	if found != nil {
		delete(s.revoked, found.user.ID)
	}
	s.mu.Unlock()
	if found == nil {
		message(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	http.SetCookie(w, &http.Cookie{Name: tokenCookie, Value: found.user.ID, Path: "/", HttpOnly: true})
	writeJSON(w, http.StatusOK, map[string]any{"user": toWire(found.user)})
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.logouts++
	s.mu.Unlock()
	http.SetCookie(w, &http.Cookie{Name: tokenCookie, Value: "", Path: "/", MaxAge: -1})
	message(w, http.StatusOK, "Logged out")
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"user": toWire(userFrom(r))})
}

func (s *Server) myPermissions(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	grant, ok := s.grants[userFrom(r).ID]
	s.mu.Unlock()
	if !ok {
		message(w, http.StatusNotFound, "Permissions not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"staffPermission": wirePermission{ID: "p-" + userFrom(r).ID, StaffID: userFrom(r).ID, Permissions: grant}})
}

func (s *Server) permissionLocked(staffID string) wirePermission {
	p := wirePermission{ID: "p-" + staffID, StaffID: staffID, Permissions: s.grants[staffID]}
	if a, ok := s.accounts[staffID]; ok {
		p.StaffID = toWire(a.user)
	}
	return p
}

func (s *Server) listPermissions(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	perms := make([]wirePermission, 0, len(s.grants))
	for _, id := range s.order {
		if _, ok := s.grants[id]; ok {
			perms = append(perms, s.permissionLocked(id))
		}
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"staffPermissions": perms})
}

func (s *Server) assignPermission(w http.ResponseWriter, r *http.Request) {
	var body struct {
		StaffID     string                `json:"staffId"`
		Permissions authz.CapabilityGrant `json:"permissions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.StaffID == "" {
		message(w, http.StatusBadRequest, "Staff id is required")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.grants[body.StaffID]; exists {
		message(w, http.StatusConflict, "Permissions already assigned")
		return
	}
	s.grants[body.StaffID] = body.Permissions
	writeJSON(w, http.StatusCreated, map[string]any{"staffPermission": s.permissionLocked(body.StaffID)})
}

func (s *Server) getPermission(w http.ResponseWriter, r *http.Request) {
	staffID := chi.URLParam(r, "staffID")
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.grants[staffID]; !ok {
		message(w, http.StatusNotFound, "Permissions not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"staffPermission": s.permissionLocked(staffID)})
}

func (s *Server) updatePermission(w http.ResponseWriter, r *http.Request) {
	staffID := chi.URLParam(r, "staffID")
	var body struct {
		Permissions authz.CapabilityGrant `json:"permissions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		message(w, http.StatusBadRequest, "Invalid request")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.grants[staffID]; !ok {
		message(w, http.StatusNotFound, "Permissions not found")
		return
	}
	s.grants[staffID] = body.Permissions
	writeJSON(w, http.StatusOK, map[string]any{"staffPermission": s.permissionLocked(staffID)})
}

func (s *Server) deletePermission(w http.ResponseWriter, r *http.Request) {
	staffID := chi.URLParam(r, "staffID")
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.grants[staffID]; !ok {
		message(w, http.StatusNotFound, "Permissions not found")
		return
	}
	delete(s.grants, staffID)
	message(w, http.StatusOK, "Permissions removed")
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	role := authz.ParseRole(chi.URLParam(r, "role"))
	s.mu.Lock()
	users := make([]wireUser, 0)
	for _, id := range s.order {
		if a := s.accounts[id]; a != nil && a.user.Role == role {
			users = append(users, toWire(a.user))
		}
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (s *Server) addUser(w http.ResponseWriter, r *http.Request) {
	var body upstream.Account
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		message(w, http.StatusBadRequest, "Invalid request")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.user.Email == body.Email {
			message(w, http.StatusConflict, "Email already exists")
			return
		}
	}
	id := s.addLocked(authz.User{Name: body.Name, Email: body.Email, Role: body.Role, IsActive: body.IsActive}, body.Password)
	writeJSON(w, http.StatusCreated, map[string]any{"user": toWire(s.accounts[id].user)})
}

func (s *Server) updateUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body upstream.Account
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		message(w, http.StatusBadRequest, "Invalid request")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		message(w, http.StatusNotFound, "User not found")
		return
	}
	a.user.Name, a.user.Email, a.user.IsActive = body.Name, body.Email, body.IsActive
	if body.Password != "" {
		a.password = body.Password
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": toWire(a.user)})
}

func (s *Server) deleteUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[id]; !ok {
		message(w, http.StatusNotFound, "User not found")
		return
	}
	delete(s.accounts, id)
	delete(s.grants, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	message(w, http.StatusOK, "User deleted")
}

func (s *Server) listStudents(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	list := make([]upstream.Student, 0, len(s.students))
	for i := 1; i <= s.nextID; i++ {
		if st, ok := s.students["st"+strconv.Itoa(i)]; ok {
			list = append(list, st)
		}
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"students": list})
}

func (s *Server) createStudent(w http.ResponseWriter, r *http.Request) {
	var st upstream.Student
	if err := json.NewDecoder(r.Body).Decode(&st); err != nil {
		message(w, http.StatusBadRequest, "Invalid request")
		return
	}
	id := s.AddStudent(st)
	st, _ = s.Student(id)
	writeJSON(w, http.StatusCreated, map[string]any{"student": st})
}

func (s *Server) getStudent(w http.ResponseWriter, r *http.Request) {
	st, ok := s.Student(chi.URLParam(r, "id"))
	if !ok {
		message(w, http.StatusNotFound, "Student not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"student": st})
}

func (s *Server) updateStudent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var st upstream.Student
	if err := json.NewDecoder(r.Body).Decode(&st); err != nil {
		message(w, http.StatusBadRequest, "Invalid request")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.students[id]; !ok {
		message(w, http.StatusNotFound, "Student not found")
		return
	}
	st.ID = id
	s.students[id] = st
	writeJSON(w, http.StatusOK, map[string]any{"student": st})
}

func (s *Server) deleteStudent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.students[id]; !ok {
		message(w, http.StatusNotFound, "Student not found")
		return
	}
	delete(s.students, id)
	message(w, http.StatusOK, "Student deleted")
}
