package httpapi

import (
	"errors"
	"net/http"

	"dialer-platform/internal/audit"
	"dialer-platform/internal/calls"

	"github.com/gin-gonic/gin"
)

type addContactRequest struct {
	Phone string `json:"phone"`
	Name  string `json:"name"`
}

func (h Handlers) AddContact(c *gin.Context) {
	var req addContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	if req.Phone == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"success": false, "message": "Phone number is required"})
		return
	}

	contact, err := calls.NewContact(req.Phone, req.Name, h.now())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}
	created, err := h.Contacts.CreateContact(c.Request.Context(), contact)
	switch {
	case errors.Is(err, calls.ErrAlreadyExists):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"success": false, "message": "Contact already exists"})
		return
	case err != nil:
		internalError(c, "contact create failed", err)
		return
	}

	h.record(c, audit.EventContactCreated, "", "contact "+created.ID+" added", nil)
	c.JSON(http.StatusCreated, gin.H{"success": true, "message": "Contact added", "contact": created})
}

func (h Handlers) ListContacts(c *gin.Context) {
	limit, ok := limitParam(c)
	if !ok {
		return
	}
	f := calls.ContactFilter{Limit: limit}
	switch st := calls.ContactStatus(c.Query("status")); st {
	case "":
	case calls.ContactActive, calls.ContactInactive:
		f.Status = st
	default:
		badRequest(c, "status must be active or inactive")
		return
	}

	list, err := h.Contacts.ListContacts(c.Request.Context(), f)
	if err != nil {
		internalError(c, "contact list failed", err)
		return
	}
	active := 0
	for _, ct := range list {
		if ct.Status == calls.ContactActive {
			active++
		}
	}
	c.JSON(http.StatusOK, gin.H{"total": len(list), "active": active, "contacts": list})
}
