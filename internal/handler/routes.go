package handler

import "github.com/gin-gonic/gin"

// Handlers bundles every route handler of the API.
type Handlers struct {
	Cursadas    *CursadaHandler
	Conversions *ConversionHandler
	Transfers   *TransferHandler
	Audit       *AuditHandler
	Analytics   *AnalyticsHandler
	Transcripts *TranscriptHandler
	Graph       *GraphHandler
}

// Options gates optional route groups.
type Options struct {
	AnalyticsEnabled   bool
	TranscriptsEnabled bool
}

// RegisterRoutes mounts the API surface on the given group.
func RegisterRoutes(api *gin.RouterGroup, h Handlers, opts Options) {
	students := api.Group("/students")
	{
		students.POST("", h.Graph.CreateStudent)
		students.GET("", h.Graph.ListStudents)
		students.GET("/:studentId", h.Graph.GetStudent)
		students.DELETE("/:studentId", h.Graph.DeleteStudent)
		students.GET("/:studentId/trajectory", h.Cursadas.Trajectory)
		students.GET("/:studentId/approved", h.Cursadas.Approved)
		students.POST("/:studentId/subjects/:subjectId/grades", h.Cursadas.RecordGrade)
		students.POST("/:studentId/subjects/:subjectId/close", h.Cursadas.Close)
		students.POST("/:studentId/transfer", h.Transfers.Transfer)
		students.GET("/:studentId/audit", h.Audit.Trail)
		if opts.TranscriptsEnabled {
			students.GET("/:studentId/transcript", h.Transcripts.Get)
			students.GET("/:studentId/transcript/export", h.Transcripts.Export)
		}
	}

	api.POST("/enrollments", h.Cursadas.Enroll)

	institutions := api.Group("/institutions")
	{
		institutions.POST("", h.Graph.CreateInstitution)
		institutions.GET("", h.Graph.ListInstitutions)
		institutions.GET("/:institutionId/subjects", h.Graph.ListSubjects)
		institutions.DELETE("/:institutionId", h.Graph.DeleteInstitution)
	}

	subjects := api.Group("/subjects")
	{
		subjects.POST("", h.Graph.CreateSubject)
		subjects.POST("/equivalences", h.Graph.CreateEquivalence)
		subjects.DELETE("/:subjectId", h.Graph.DeleteSubject)
	}

	careers := api.Group("/careers")
	{
		careers.POST("", h.Graph.CreateCareer)
		careers.POST("/:careerId/subjects", h.Graph.AddCareerSubject)
		careers.GET("/:careerId/subjects", h.Graph.CareerSubjects)
	}

	rules := api.Group("/conversion-rules")
	{
		rules.POST("", h.Conversions.CreateRule)
		rules.GET("", h.Conversions.ListRules)
		rules.GET("/:code", h.Conversions.GetRule)
		rules.PUT("/:code", h.Conversions.UpdateRule)
	}
	api.POST("/conversions", h.Conversions.Convert)
	api.POST("/conversions/apply", h.Conversions.Apply)

	api.GET("/audit", h.Audit.ByDateRange)

	if opts.AnalyticsEnabled {
		analytics := api.Group("/analytics")
		{
			analytics.GET("/regional-average", h.Analytics.RegionalAverage)
			analytics.GET("/pass-rate", h.Analytics.PassRate)
			analytics.GET("/distribution", h.Analytics.Distribution)
		}
	}
}
