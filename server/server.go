package server

import (
	"context"
	crand "crypto/rand"
	"encoding/binary"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/ramon2115/negotiation-game2/config"
	"github.com/ramon2115/negotiation-game2/handlers"
	"github.com/ramon2115/negotiation-game2/kafka"
	"github.com/ramon2115/negotiation-game2/limiter"
	custommiddleware "github.com/ramon2115/negotiation-game2/middleware"
	"github.com/ramon2115/negotiation-game2/models"
	"github.com/ramon2115/negotiation-game2/redis"
	"github.com/ramon2115/negotiation-game2/services"
	"github.com/ramon2115/negotiation-game2/store"
)

type Server struct {
	Echo          *echo.Echo
	Config        *config.Config
	Store         *store.Store
	Engine        *services.Engine
	AuthHandler   *handlers.AuthHandler
	RoomHandler   *handlers.RoomHandler
	SocketHandler *handlers.SessionSocketHandler

	redis    *redis.RedisClient
	producer *kafka.Producer
	consumer *kafka.Consumer
	cancel   context.CancelFunc
}

func NewServer(configPath string) *Server {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	// Durable side. An unreachable database degrades to memory-only
	// operation rather than refusing to start.
	var persister store.Persister
	db, err := gorm.Open(postgres.Open(cfg.Database.DSN), &gorm.Config{})
	if err != nil {
		log.Warn("Database unreachable, running memory-only: ", err)
	} else if err := models.AutoMigrateAll(db); err != nil {
		log.Warn("Auto-migration failed, running memory-only: ", err)
	} else {
		persister = store.NewGormPersister(db)
	}
	st := store.New(persister)

	var redisClient *redis.RedisClient
	if cfg.Redis.Addr != "" {
		redisClient, err = redis.NewRedisClient(&cfg.Redis)
		if err != nil {
			log.Warn("Redis unreachable, presence and rate limiting disabled: ", err)
		}
	}

	// Analytics stream. Optional like redis: terminal-session events are
	// published when a broker is configured, dropped otherwise.
	var producer *kafka.Producer
	var consumer *kafka.Consumer
	var stats *kafka.StatsHandler
	ctx, cancel := context.WithCancel(context.Background())
	if cfg.Kafka.Enabled {
		saramaCfg, err := kafka.NewSaramaConfig(&cfg.Kafka)
		if err != nil {
			log.Warn("Kafka config invalid, event stream disabled: ", err)
		} else {
			producer, err = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, saramaCfg)
			if err != nil {
				log.Warn("Kafka producer unavailable, event stream disabled: ", err)
				producer = nil
			}
			stats = kafka.NewStatsHandler()
			consumerCfg, err := kafka.NewSaramaConfig(&cfg.Kafka)
			if err == nil {
				consumer, err = kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID,
					[]string{cfg.Kafka.Topic}, consumerCfg, stats)
				if err != nil {
					log.Warn("Kafka consumer unavailable, stats aggregation disabled: ", err)
					consumer = nil
					stats = nil
				} else {
					go func() {
						if err := consumer.Start(ctx); err != nil {
							log.Warn("Kafka consumer stopped: ", err)
						}
					}()
				}
			}
		}
	}

	var pub services.Publisher
	if producer != nil {
		pub = producer
	}
	engine := services.NewEngine(st, pub, randomSeed())
	if err := engine.LoadRooms(ctx, roomsFromConfig(cfg.Rooms)); err != nil {
		log.Fatal("Failed to seed room catalog:", err)
	}

	authService := services.NewAuthService(st, &cfg.Auth)

	// Chat flood control rides the cheap fixed window; the public HTTP
	// endpoints get the smoother token bucket.
	var lim *limiter.Manager
	var rateLimit echo.MiddlewareFunc
	if redisClient != nil {
		lim = limiter.NewManager(redisClient.Client, &limiter.FixedWindowStrategy{})
		httpLim := limiter.NewManager(redisClient.Client, &limiter.TokenBucketStrategy{})
		rateLimit = custommiddleware.NewRateLimitMiddleware(httpLim, custommiddleware.RateLimitConfig{
			Limit:  10,
			Window: time.Minute,
		})
	}

	e := echo.New()
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"http://localhost:5173"},
		AllowMethods:     []string{echo.GET, echo.POST, echo.PUT, echo.DELETE, echo.PATCH},
		AllowHeaders:     []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
		AllowCredentials: true,
		ExposeHeaders:    []string{echo.HeaderContentLength},
		MaxAge:           86400,
	}))

	s := &Server{
		Echo:          e,
		Config:        &cfg,
		Store:         st,
		Engine:        engine,
		AuthHandler:   handlers.NewAuthHandler(authService),
		RoomHandler:   handlers.NewRoomHandler(engine, st, redisClient, stats),
		SocketHandler: handlers.NewSessionSocketHandler(engine, redisClient, lim),
		redis:         redisClient,
		producer:      producer,
		consumer:      consumer,
		cancel:        cancel,
	}

	authMiddleware := custommiddleware.AuthMiddleware(authService)
	moderatorMiddleware := custommiddleware.ModeratorOnly()
	s.SetupRoutes(authMiddleware, moderatorMiddleware, rateLimit)
	return s
}

func (s *Server) Start(addr string) {
	log.Fatal(s.Echo.Start(addr))
}

// Shutdown stops accepting traffic first, then tears down the side
// channels and finally drains the store: requests still in flight while
// echo winds down keep a live write queue to land on.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.Echo.Shutdown(ctx)
	s.cancel()
	if s.consumer != nil {
		s.consumer.Close()
	}
	if s.producer != nil {
		s.producer.Close()
	}
	if s.redis != nil {
		s.redis.Close()
	}
	s.Store.Close()
	return err
}

func roomsFromConfig(rooms []config.RoomConfig) []*models.Room {
	out := make([]*models.Room, 0, len(rooms))
	for _, rc := range rooms {
		products := make([]models.Product, 0, len(rc.Products))
		for _, pc := range rc.Products {
			products = append(products, models.Product{
				Name:      pc.Name,
				ListPrice: pc.ListPrice,
			})
		}
		out = append(out, &models.Room{
			ID:          rc.ID,
			Name:        rc.Name,
			Description: rc.Description,
			Products:    products,
		})
	}
	return out
}

// randomSeed draws the matchmaking seed from the system entropy pool;
// tests inject fixed seeds instead.
func randomSeed() int64 {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return time.Now().UnixNano()
	}
	return int64(binary.LittleEndian.Uint64(b[:]))
}
