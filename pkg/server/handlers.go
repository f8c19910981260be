package server

import (
	"net/http"

	"proxy-provisioner/pkg/models"
	"proxy-provisioner/pkg/provisioning"
	"proxy-provisioner/pkg/proxy"

	"github.com/gin-gonic/gin"
)

type createPlanRequest struct {
	Class         models.PlanClass `json:"class" binding:"required"`
	Username      string           `json:"username"`
	Password      string           `json:"password"`
	BandwidthMB   int64            `json:"bandwidth_mb" binding:"gte=0"`
	DurationHours int              `json:"duration_hours" binding:"gte=0"`
}

type updatePlanRequest struct {
	// an empty password asks for a generated one
	Password *string `json:"password"`
	Enabled  *bool   `json:"enabled"`
}

type planResponse struct {
	*models.PlanRecord
	Endpoint string `json:"endpoint"`
}

func newPlanResponse(rec *models.PlanRecord) planResponse {
	return planResponse{PlanRecord: rec, Endpoint: provisioning.Endpoint(rec)}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) createPlan(c *gin.Context) {
	var req createPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	password := req.Password
	if password == "" {
		generated, err := provisioning.GeneratePassword()
		if err != nil {
			s.fail(c, err)
			return
		}
		password = generated
	}

	rec, err := s.svc.Create(c.Request.Context(), req.Class,
		proxy.Credentials{Username: req.Username, Password: password},
		proxy.Limit{BandwidthMB: req.BandwidthMB, DurationHours: req.DurationHours})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, newPlanResponse(rec))
}

func (s *Server) listPlans(c *gin.Context) {
	reg := s.svc.Registry()

	var (
		recs []models.PlanRecord
		err  error
	)
	if class := c.Query("class"); class != "" {
		recs, err = reg.ListByClass(c.Request.Context(), models.PlanClass(class))
	} else {
		recs, err = reg.List(c.Request.Context())
	}
	if err != nil {
		s.fail(c, err)
		return
	}

	out := make([]planResponse, 0, len(recs))
	for i := range recs {
		out = append(out, newPlanResponse(&recs[i]))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) getPlan(c *gin.Context) {
	status, err := s.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"record":           newPlanResponse(status.Record),
		"upstream":         status.Upstream,
		"missing_upstream": status.MissingUpstream,
	})
}

func (s *Server) updatePlan(c *gin.Context) {
	var req updatePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Password == nil && req.Enabled == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "password or enabled is required"})
		return
	}

	ctx := c.Request.Context()
	id := c.Param("id")
	if req.Enabled != nil {
		if _, err := s.svc.Registry().Get(ctx, id); err != nil {
			s.fail(c, err)
			return
		}
		if _, err := s.svc.SetEnabled(ctx, id, *req.Enabled); err != nil {
			s.fail(c, err)
			return
		}
	}

	var (
		rec *models.PlanRecord
		err error
	)
	if req.Password != nil {
		rec, err = s.svc.RotatePassword(ctx, id, *req.Password)
	} else {
		rec, err = s.svc.Registry().Get(ctx, id)
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newPlanResponse(rec))
}

func (s *Server) deletePlan(c *gin.Context) {
	if err := s.svc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) reassignPort(c *gin.Context) {
	rec, err := s.svc.Registry().ReassignPort(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newPlanResponse(rec))
}

func (s *Server) portUsage(c *gin.Context) {
	usage, err := s.svc.Registry().PortUsage(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, usage)
}

func (s *Server) sync(c *gin.Context) {
	report, err := s.svc.Sync(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) expire(c *gin.Context) {
	expired, err := s.svc.ExpireStale(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	ids := make([]string, 0, len(expired))
	for _, rec := range expired {
		ids = append(ids, rec.PlanID)
	}
	c.JSON(http.StatusOK, gin.H{"expired": ids})
}
