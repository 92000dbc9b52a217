package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rollcall/internal/activity"
	"rollcall/internal/auth"
	"rollcall/internal/calendar"
	"rollcall/internal/cloudinary"
	"rollcall/internal/config"
	"rollcall/internal/faceclient"
	"rollcall/internal/httpmiddleware"
	"rollcall/internal/notify"
	"rollcall/internal/queue"
	"rollcall/internal/roster"
	"rollcall/internal/session"
	"rollcall/internal/settings"
	"rollcall/internal/store"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		log.Fatalf("migrate failed: %v", err)
	}

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "")
	}

	repo := session.NewRepository(db.Client)
	people := roster.NewPG(db.Client)
	audit := activity.NewPG(db.Client)
	engineCfg := session.LoadConfig(ctx, settings.NewPG(db.Client))
	svc := session.NewService(repo, people, people, engineCfg, notify.NewPublisher(q), audit)
	gen := session.NewGenerator(repo, svc, people)
	holidays := calendar.NewRepository(db.Client)
	feed := notify.NewStore(db.Client)
	face := faceclient.New(cfg.FaceServiceURL, cfg.FaceSkip)

	var cdn *cloudinary.Client
	if c := cloudinary.New(cfg.CloudName, cfg.CloudAPIKey, cfg.CloudAPISecret, cfg.CloudFolder); c.Configured() {
		cdn = c
		log.Println("Cloudinary configured:", cfg.CloudName)
	} else {
		log.Println("Cloudinary not configured, capture uploads disabled")
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db.Client.PingContext(c.Request.Context()) == nil
		faceHealthy := face.Health(c.Request.Context()) == nil
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"status": "ok",
			"redis":  redisHealthy,
			"db":     dbHealthy,
			"face":   faceHealthy,
		})
	})

	r.POST("/v1/auth/token", func(c *gin.Context) {
		var req struct {
			InstructorID string `json:"instructor_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		tokens, err := auth.Issue(req.InstructorID, "instructor", cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})

	v1 := r.Group("/v1",
		auth.Middleware(cfg.JWTSigningKey, cfg.JWTIssuer),
		auth.RequireRole("instructor"))

	v1.POST("/sessions", func(c *gin.Context) {
		claims, _ := auth.FromContext(c)
		var req struct {
			ClassID   string            `json:"class_id" binding:"required"`
			Date      string            `json:"date" binding:"required"`
			StartTime session.TimeOfDay `json:"start_time"`
			EndTime   session.TimeOfDay `json:"end_time"`
			Notes     string            `json:"notes"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		day, err := time.Parse("2006-01-02", req.Date)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
			return
		}
		created, err := svc.Create(c.Request.Context(), session.CreateInput{
			ClassID:      req.ClassID,
			Date:         day,
			StartTime:    req.StartTime,
			EndTime:      req.EndTime,
			InstructorID: claims.Subject,
			Notes:        req.Notes,
		})
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, created)
	})

	v1.GET("/sessions", func(c *gin.Context) {
		claims, _ := auth.FromContext(c)
		f := session.Filter{
			ClassID:  c.Query("class_id"),
			Semester: c.Query("semester"),
			Limit:    intQuery(c, "limit", 50),
			Offset:   intQuery(c, "offset", 0),
		}
		if v := c.Query("status"); v != "" {
			f.Statuses = []session.Status{session.Status(v)}
		}
		if v := c.Query("date_from"); v != "" {
			if d, err := time.Parse("2006-01-02", v); err == nil {
				f.DateFrom = d
			}
		}
		if v := c.Query("date_to"); v != "" {
			if d, err := time.Parse("2006-01-02", v); err == nil {
				f.DateTo = d
			}
		}
		sessions, err := svc.ListByInstructor(c.Request.Context(), claims.Subject, f)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"sessions": sessions})
	})

	v1.GET("/sessions/:id", func(c *gin.Context) {
		s, err := repo.GetSession(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, s)
	})

	v1.POST("/sessions/:id/start", func(c *gin.Context) {
		claims, _ := auth.FromContext(c)
		s, err := svc.Start(c.Request.Context(), c.Param("id"), claims.Subject)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, s)
	})

	v1.POST("/sessions/:id/end", func(c *gin.Context) {
		claims, _ := auth.FromContext(c)
		var req struct {
			Notes string `json:"notes"`
		}
		_ = c.ShouldBindJSON(&req)
		stats, err := svc.End(c.Request.Context(), c.Param("id"), claims.Subject, req.Notes)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, stats)
	})

	v1.POST("/sessions/:id/dismiss", func(c *gin.Context) {
		claims, _ := auth.FromContext(c)
		var req struct {
			Reason         string             `json:"reason" binding:"required"`
			RescheduleDate string             `json:"reschedule_date"`
			RescheduleTime *session.TimeOfDay `json:"reschedule_time"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		in := session.DismissInput{
			SessionID:      c.Param("id"),
			InstructorID:   claims.Subject,
			Reason:         req.Reason,
			RescheduleTime: req.RescheduleTime,
		}
		if req.RescheduleDate != "" {
			d, err := time.Parse("2006-01-02", req.RescheduleDate)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "reschedule_date must be YYYY-MM-DD"})
				return
			}
			in.RescheduleDate = &d
		}
		replacement, err := svc.Dismiss(c.Request.Context(), in)
		if err != nil {
			respondErr(c, err)
			return
		}
		resp := gin.H{"dismissed": true}
		if replacement != nil {
			resp["rescheduled_session"] = replacement
		}
		c.JSON(http.StatusOK, resp)
	})

	v1.GET("/sessions/:id/attendance", func(c *gin.Context) {
		students, err := svc.ExpectedStudentsWithStatus(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"students": students})
	})

	v1.POST("/sessions/:id/attendance", func(c *gin.Context) {
		claims, _ := auth.FromContext(c)
		var req struct {
			StudentID string `json:"student_id" binding:"required"`
			Status    string `json:"status" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		err := svc.Mark(c.Request.Context(), session.MarkInput{
			SessionID: c.Param("id"),
			StudentID: req.StudentID,
			Status:    session.AttendanceStatus(req.Status),
			Method:    session.MethodManual,
			ActorID:   claims.Subject,
		})
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"marked": true})
	})

	v1.POST("/sessions/:id/recognize", func(c *gin.Context) {
		var req struct {
			ImageURL  string  `json:"image_url" binding:"required"`
			Threshold float64 `json:"threshold"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		result, err := face.Identify(c.Request.Context(), req.ImageURL, 10, req.Threshold)
		if err != nil {
			log.Printf("face identify failed: %v", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "face service failed"})
			return
		}
		marked := make([]string, 0, len(result.Matches))
		for _, m := range result.Matches {
			confidence := m.Similarity
			err := svc.Mark(c.Request.Context(), session.MarkInput{
				SessionID:  c.Param("id"),
				StudentID:  m.StudentID,
				Status:     session.AttendancePresent,
				Method:     session.MethodFace,
				Confidence: &confidence,
			})
			if err != nil {
				respondErr(c, err)
				return
			}
			marked = append(marked, m.StudentID)
		}
		c.JSON(http.StatusOK, gin.H{
			"faces_detected": result.FacesDetected,
			"marked":         marked,
		})
	})

	v1.GET("/sessions/:id/stats", func(c *gin.Context) {
		stats, err := svc.Statistics(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, stats)
	})

	v1.POST("/sessions/generate", func(c *gin.Context) {
		var req struct {
			StartDate    string `json:"start_date" binding:"required"`
			EndDate      string `json:"end_date" binding:"required"`
			ClassID      string `json:"class_id"`
			InstructorID string `json:"instructor_id"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		from, err := time.Parse("2006-01-02", req.StartDate)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "start_date must be YYYY-MM-DD"})
			return
		}
		to, err := time.Parse("2006-01-02", req.EndDate)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "end_date must be YYYY-MM-DD"})
			return
		}
		cal, err := holidays.Load(c.Request.Context())
		if err != nil {
			respondErr(c, err)
			return
		}
		res, err := gen.Generate(c.Request.Context(), cal, session.GenerateRequest{
			StartDate:    from,
			EndDate:      to,
			ClassID:      req.ClassID,
			InstructorID: req.InstructorID,
		})
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	})

	v1.POST("/students/:id/enroll", func(c *gin.Context) {
		var req struct {
			ImageURL string `json:"image_url" binding:"required"`
			Name     string `json:"name"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		id := c.Param("id")
		if err := face.Enroll(c.Request.Context(), id, req.ImageURL, req.Name); err != nil {
			log.Printf("face enroll failed: %v", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "face service failed"})
			return
		}
		if err := people.SetFaceEnrolled(c.Request.Context(), id, true); err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"enrolled": true})
	})

	v1.POST("/upload", func(c *gin.Context) {
		if cdn == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "image storage not configured"})
			return
		}
		var body struct {
			Data string `json:"data" binding:"required"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "provide {\"data\": \"<base64 data URL>\"}"})
			return
		}
		result, err := cdn.UploadBase64(body.Data)
		if err != nil {
			log.Printf("cloudinary upload failed: %v", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "image upload failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"url":       result.SecureURL,
			"public_id": result.PublicID,
			"bytes":     result.Bytes,
		})
	})

	v1.GET("/notifications", func(c *gin.Context) {
		items, err := feed.Recent(c.Request.Context(), intQuery(c, "limit", 50))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"notifications": items})
	})

	v1.GET("/activity", func(c *gin.Context) {
		events, err := audit.Recent(c.Request.Context(), intQuery(c, "limit", 50))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"events": events})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

// respondErr maps typed engine errors onto HTTP statuses.
func respondErr(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch session.KindOf(err) {
	case session.KindPermissionDenied:
		status = http.StatusForbidden
	case session.KindConflict:
		status = http.StatusConflict
	case session.KindInvalidState, session.KindNotEligible:
		status = http.StatusBadRequest
	case session.KindNotFound:
		status = http.StatusNotFound
	case session.KindConfigurationError:
		status = http.StatusInternalServerError
	default:
		var verr validator.ValidationErrors
		if errors.As(err, &verr) {
			status = http.StatusBadRequest
		}
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func intQuery(c *gin.Context, key string, def int) int {
	if v := c.Query(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
