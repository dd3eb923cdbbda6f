package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"

	"github.com/Web-Am/buzzer/auth"
	"github.com/Web-Am/buzzer/crypto"
	"github.com/Web-Am/buzzer/game"
	"github.com/Web-Am/buzzer/migrations"
	"github.com/Web-Am/buzzer/storage"
	"github.com/Web-Am/buzzer/store"
)

func CreateServer(allowedOrigins []string) *gin.Engine {
	r := gin.New()
	r.SetTrustedProxies([]string{"127.0.0.1", "10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"})
	r.GET("/health", func(ctx *gin.Context) { ctx.String(200, "healthy") })

	r.Use(func(ctx *gin.Context) {
		origin := ctx.Request.Header.Get("Origin")

		if origin == "" || slices.Contains(allowedOrigins, origin) {
			ctx.Next()
			return
		}
		ctx.String(http.StatusForbidden, "forbidden origin")
		ctx.Abort()
	})

	r.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowCredentials: true,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders: []string{
			"Content-Type",
			"Authorization",
			"Upgrade",
			"Connection",
			"Sec-WebSocket-Key",
			"Sec-WebSocket-Version",
			"Sec-WebSocket-Extensions",
			"Sec-WebSocket-Protocol",
		},
	}))

	return r
}

func main() {

	// logger setup
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// ENVs
	ALLOWED_ORIGINS, exists := os.LookupEnv("ALLOWED_ORIGINS")
	if !exists {
		log.Fatal("Missing allowed origins")
	}
	allowedOrigins := strings.Split(ALLOWED_ORIGINS, ",")

	POSTGRES_URL, exists := os.LookupEnv("POSTGRES_URL")
	if !exists {
		log.Fatal("Missing postgres url")
	}

	JWT_KEY, exists := os.LookupEnv("JWT_KEY")
	if !exists {
		log.Fatal("Missing jwt signing key")
	}

	// run migrations
	if err := migrations.Migrate(POSTGRES_URL); err != nil {
		log.Fatal("Migrations failed: ", err)
	}
	slog.Info("Migrations applied")

	// Dependencies
	pgRepo, err := storage.NewPostgresRepo(context.Background(), POSTGRES_URL)
	if err != nil {
		log.Fatal(err)
	}
	tokenAge := time.Hour * 24 * 7 // 7 days
	passwordHasher := crypto.NewArgon2idHasher(3, 1024*64, 32, 16, 1)
	tokenManager := crypto.NewJWTManager(JWT_KEY, tokenAge)

	authService := auth.NewService(pgRepo, passwordHasher, tokenManager)
	authHandler := auth.NewAuthHandler(authService, tokenAge)

	// Without REDIS_URL the room state lives in this process only. Fine for
	// a single instance, required to be redis when running more than one.
	var roomStore game.RoomStore
	var sessionStore game.SessionStore
	if REDIS_URL, exists := os.LookupEnv("REDIS_URL"); exists {
		opts, err := redis.ParseURL(REDIS_URL)
		if err != nil {
			log.Fatal("Bad redis url:", err)
		}
		redisStore := store.NewRedis(redis.NewClient(opts), "buzzer:")
		roomStore = redisStore
		sessionStore = redisStore
		slog.Info("using redis room store")
	} else {
		memStore := store.NewMemory()
		roomStore = memStore
		sessionStore = memStore
		slog.Info("using in-memory room store")
	}

	r := CreateServer(allowedOrigins)

	{
		authGroup := r.Group("/auth")
		authGroup.POST("/signup", authHandler.SignupHandler)
		authGroup.POST("/login", authHandler.LoginHandler)
		authGroup.POST("/logout", authHandler.LogoutHandler)
		authGroup.GET("/refresh", authHandler.RefreshSessionHandler)
	}

	codeGen := game.NewCodeGen()
	tickerGen := game.NewTickerGen()

	roomService := game.NewRoomService(roomStore, pgRepo, codeGen, &tickerGen)
	sessionService := game.NewSessionService(sessionStore, &tickerGen)

	rootCtx, stopActors := context.WithCancel(context.Background())
	defer stopActors()

	sweeperStarted := make(chan struct{})
	go roomService.SweeperActor(rootCtx, sweeperStarted)
	<-sweeperStarted

	expiryStarted := make(chan struct{})
	go sessionService.ExpiryActor(rootCtx, expiryStarted)
	<-expiryStarted

	gameHandler := game.NewGameHandler(roomService, sessionService, pgRepo)
	{
		// participant-facing, no account needed
		rooms := r.Group("/rooms")
		rooms.GET("/:code", gameHandler.GetRoomHandler)
		rooms.GET("/:code/ws", gameHandler.RoomSocketHandler)
		rooms.POST("/:code/join", gameHandler.JoinRoomHandler)
		rooms.POST("/:code/leave", gameHandler.LeaveRoomHandler)
		rooms.POST("/:code/bids", gameHandler.SubmitBidHandler)
		rooms.GET("/:code/eligibility", gameHandler.EligibilityHandler)
		rooms.GET("/:code/cost", gameHandler.RequiredCostHandler)
		rooms.GET("/:code/leaderboard", gameHandler.LeaderboardHandler)
	}
	{
		// master-only room administration
		admin := r.Group("/rooms")
		admin.Use(authHandler.RequireAuthMiddleware(time.Second * 2))
		admin.POST("", gameHandler.CreateRoomHandler)
		admin.DELETE("/:code", gameHandler.DeleteRoomHandler)
		admin.POST("/:code/rounds", gameHandler.StartRoundHandler)
		admin.POST("/:code/rounds/finish", gameHandler.FinishRoundHandler)
		admin.POST("/:code/rounds/reset", gameHandler.ResetRoundHandler)
		admin.DELETE("/:code/participants/:key", gameHandler.RemoveParticipantHandler)
		admin.GET("/:code/history", gameHandler.RoundHistoryHandler)
	}
	{
		session := r.Group("/session")
		session.GET("", gameHandler.GetSessionHandler)
		session.GET("/players", gameHandler.SessionPlayersHandler)
		session.POST("/press", gameHandler.PressHandler)

		sessionAdmin := session.Group("")
		sessionAdmin.Use(authHandler.RequireAuthMiddleware(time.Second * 2))
		sessionAdmin.POST("/start", gameHandler.StartSessionHandler)
		sessionAdmin.POST("/stop", gameHandler.StopSessionHandler)
		sessionAdmin.PATCH("/maxpoints", gameHandler.SetSessionMaxPointsHandler)
		sessionAdmin.POST("/players", gameHandler.AddSessionPlayerHandler)
		sessionAdmin.DELETE("/players/:id", gameHandler.DeleteSessionPlayerHandler)
		sessionAdmin.DELETE("/players/:id/victories/:index", gameHandler.DeleteVictoryHandler)
		sessionAdmin.POST("/players/:id/reset", gameHandler.ResetPlayerPointsHandler)
	}

	go r.Run(":5000")
	sigCh := make(chan os.Signal, 1)

	signal.Notify(sigCh, syscall.SIGTERM, os.Interrupt)
	slog.Info("Server started")
	<-sigCh
	slog.Info("SIGTERM or SIGINT received, shutting down")

	stopActors()
	pgRepo.Close()
}
