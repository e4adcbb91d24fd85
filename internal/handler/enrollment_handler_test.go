package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-enrollment-api/internal/middleware"
	"github.com/noah-isme/course-enrollment-api/internal/models"
	"github.com/noah-isme/course-enrollment-api/internal/service"
	appErrors "github.com/noah-isme/course-enrollment-api/pkg/errors"
)

type enrollmentServiceMock struct {
	lastActor   models.Actor
	lastFilter  models.EnrollmentFilter
	lastID      string
	lastOp      string
	lastReq     service.RegisterEnrollmentRequest
	lastPlace   service.ForcePlaceRequest
	resp        *models.Enrollment
	err         error
	registerErr error
}

func (m *enrollmentServiceMock) List(ctx context.Context, actor models.Actor, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, *models.Pagination, error) {
	m.lastActor, m.lastFilter = actor, filter
	return []models.EnrollmentDetail{{Enrollment: models.Enrollment{ID: "enr-1"}}}, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: 1}, m.err
}

func (m *enrollmentServiceMock) Get(ctx context.Context, actor models.Actor, id string) (*models.Enrollment, error) {
	return m.record(actor, id, "get")
}

func (m *enrollmentServiceMock) Register(ctx context.Context, actor models.Actor, req service.RegisterEnrollmentRequest) (*models.Enrollment, error) {
	m.lastActor, m.lastReq = actor, req
	if m.registerErr != nil {
		return nil, m.registerErr
	}
	return &models.Enrollment{ID: "enr-new", StudentID: req.StudentID, OfferingID: req.OfferingID, Status: models.EnrollmentStatusConfirmed}, nil
}

func (m *enrollmentServiceMock) Cancel(ctx context.Context, actor models.Actor, id string) (*models.Enrollment, error) {
	return m.record(actor, id, "cancel")
}

func (m *enrollmentServiceMock) Reject(ctx context.Context, actor models.Actor, id string) (*models.Enrollment, error) {
	return m.record(actor, id, "reject")
}

func (m *enrollmentServiceMock) AdminConfirm(ctx context.Context, actor models.Actor, id string) (*models.Enrollment, error) {
	return m.record(actor, id, "confirm")
}

func (m *enrollmentServiceMock) AdminForcePlace(ctx context.Context, actor models.Actor, id string, req service.ForcePlaceRequest) (*models.Enrollment, error) {
	m.lastPlace = req
	return m.record(actor, id, "place")
}

func (m *enrollmentServiceMock) record(actor models.Actor, id, op string) (*models.Enrollment, error) {
	m.lastActor, m.lastID, m.lastOp = actor, id, op
	if m.err != nil {
		return nil, m.err
	}
	return &models.Enrollment{ID: id}, nil
}

func newTestContext(method, target, body string, claims *models.JWTClaims) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}
	req, _ := http.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	if claims != nil {
		c.Set(middleware.ContextUserKey, claims)
	}
	return c, w
}

func adminClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: "admin-1", Role: models.ActorAdmin}
}

func TestEnrollmentHandlerList(t *testing.T) {
	mockSvc := &enrollmentServiceMock{}
	h := NewEnrollmentHandler(mockSvc)
	c, w := newTestContext(http.MethodGet, "/enrollments?offeringId=off-1&status=waitlisted&page=2&limit=5", "", adminClaims())

	h.List(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "off-1", mockSvc.lastFilter.OfferingID)
	assert.Equal(t, models.EnrollmentStatusWaitlisted, mockSvc.lastFilter.Status)
	assert.Equal(t, 2, mockSvc.lastFilter.Page)
	assert.Equal(t, 5, mockSvc.lastFilter.PageSize)
	assert.Equal(t, models.ActorAdmin, mockSvc.lastActor.Role)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.NotNil(t, body["pagination"])
	assert.Equal(t, "1", w.Header().Get("X-Total-Count"))
}

func TestEnrollmentHandlerRequiresClaims(t *testing.T) {
	h := NewEnrollmentHandler(&enrollmentServiceMock{})
	c, w := newTestContext(http.MethodGet, "/enrollments/enr-1", "", nil)

	h.Get(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestEnrollmentHandlerRegister(t *testing.T) {
	mockSvc := &enrollmentServiceMock{}
	h := NewEnrollmentHandler(mockSvc)
	city := "Lyon"
	claims := &models.JWTClaims{UserID: "stu-1", Role: models.ActorStudent, City: &city}
	c, w := newTestContext(http.MethodPost, "/enrollments", `{"student_id":"stu-1","offering_id":"off-1"}`, claims)

	h.Register(c)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "off-1", mockSvc.lastReq.OfferingID)
	assert.Equal(t, "stu-1", mockSvc.lastActor.UserID)
	require.NotNil(t, mockSvc.lastActor.City)
	assert.Equal(t, "Lyon", *mockSvc.lastActor.City)
}

func TestEnrollmentHandlerRegisterErrors(t *testing.T) {
	h := NewEnrollmentHandler(&enrollmentServiceMock{})
	c, w := newTestContext(http.MethodPost, "/enrollments", `{"student_id":`, adminClaims())
	h.Register(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	h = NewEnrollmentHandler(&enrollmentServiceMock{registerErr: appErrors.ErrDuplicateEnrollment})
	c, w = newTestContext(http.MethodPost, "/enrollments", `{"student_id":"stu-1","offering_id":"off-1"}`, adminClaims())
	h.Register(c)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), appErrors.ErrDuplicateEnrollment.Code)
}

func TestEnrollmentHandlerTransitions(t *testing.T) {
	cases := []struct {
		op     string
		invoke func(h *EnrollmentHandler, c *gin.Context)
	}{
		{"cancel", (*EnrollmentHandler).Cancel},
		{"confirm", (*EnrollmentHandler).Confirm},
		{"reject", (*EnrollmentHandler).Reject},
	}
	for _, tc := range cases {
		t.Run(tc.op, func(t *testing.T) {
			mockSvc := &enrollmentServiceMock{}
			h := NewEnrollmentHandler(mockSvc)
			c, w := newTestContext(http.MethodPost, "/enrollments/enr-7/"+tc.op, "", adminClaims())
			c.Params = gin.Params{{Key: "id", Value: "enr-7"}}

			tc.invoke(h, c)
			require.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tc.op, mockSvc.lastOp)
			assert.Equal(t, "enr-7", mockSvc.lastID)
		})
	}
}

func TestEnrollmentHandlerTransitionError(t *testing.T) {
	h := NewEnrollmentHandler(&enrollmentServiceMock{err: appErrors.ErrEnrollmentNotCancellable})
	c, w := newTestContext(http.MethodPost, "/enrollments/enr-7/cancel", "", adminClaims())
	c.Params = gin.Params{{Key: "id", Value: "enr-7"}}

	h.Cancel(c)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestEnrollmentHandlerPlace(t *testing.T) {
	mockSvc := &enrollmentServiceMock{}
	h := NewEnrollmentHandler(mockSvc)
	c, w := newTestContext(http.MethodPost, "/enrollments/enr-7/place", `{"offering_id":"off-2"}`, adminClaims())
	c.Params = gin.Params{{Key: "id", Value: "enr-7"}}

	h.Place(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "place", mockSvc.lastOp)
	assert.Equal(t, "off-2", mockSvc.lastPlace.OfferingID)
}
