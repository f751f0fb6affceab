package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/edugrade/edugrade-api/internal/middleware"
	"github.com/edugrade/edugrade-api/internal/models"
	"github.com/edugrade/edugrade-api/internal/service"
	appErrors "github.com/edugrade/edugrade-api/pkg/errors"
	"github.com/edugrade/edugrade-api/pkg/response"
)

// ConversionHandler exposes the conversion engine and rule administration.
type ConversionHandler struct {
	conversion *service.ConversionService
}

// NewConversionHandler constructs handler.
func NewConversionHandler(conversion *service.ConversionService) *ConversionHandler {
	return &ConversionHandler{conversion: conversion}
}

// ConvertRequest asks for one value conversion through a named rule.
type ConvertRequest struct {
	RuleCode string `json:"rule_code" binding:"required"`
	Value    string `json:"value" binding:"required"`
}

// Convert maps a value through a rule and returns the destination value.
func (h *ConversionHandler) Convert(c *gin.Context) {
	var req ConvertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	rule, err := h.conversion.ResolveRule(c.Request.Context(), req.RuleCode)
	if err != nil {
		response.Error(c, err)
		return
	}
	converted, err := h.conversion.Convert(rule, models.ParseGradeValue(req.Value))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{
		"rule_code":    rule.Code,
		"rule_version": rule.Version,
		"source":       req.Value,
		"converted":    converted.String(),
	})
}

// ApplyRequest asks for a conversion of a stored grade record.
type ApplyRequest struct {
	RecordID string `json:"record_id" binding:"required"`
	RuleCode string `json:"rule_code" binding:"required"`
}

// Apply converts a grade record through a rule and appends the result to the
// record's conversion history.
func (h *ConversionHandler) Apply(c *gin.Context) {
	var req ApplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	applied, err := h.conversion.ApplyToRecord(c.Request.Context(), req.RecordID, req.RuleCode, middleware.ActorFrom(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, applied)
}

// GetRule returns one rule by code, cache first.
func (h *ConversionHandler) GetRule(c *gin.Context) {
	rule, err := h.conversion.ResolveRule(c.Request.Context(), c.Param("code"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rule)
}

// ListRules returns every registered rule.
func (h *ConversionHandler) ListRules(c *gin.Context) {
	rules, err := h.conversion.ListRules(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rules)
}

// CreateRule registers a rule.
func (h *ConversionHandler) CreateRule(c *gin.Context) {
	var req service.CreateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	rule, err := h.conversion.CreateRule(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, rule)
}

// UpdateRule versions a rule in place.
func (h *ConversionHandler) UpdateRule(c *gin.Context) {
	var patch models.RulePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	rule, err := h.conversion.UpdateRule(c.Request.Context(), c.Param("code"), middleware.ActorFrom(c), patch)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rule)
}
