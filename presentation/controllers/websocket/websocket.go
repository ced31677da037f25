package websocket

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/SIRI-bit-tech/bidforge-sub000/infrastructure/config"
	"github.com/SIRI-bit-tech/bidforge-sub000/infrastructure/logger"
	"github.com/SIRI-bit-tech/bidforge-sub000/infrastructure/ratelimit"
	"github.com/SIRI-bit-tech/bidforge-sub000/infrastructure/security"
	"github.com/SIRI-bit-tech/bidforge-sub000/infrastructure/utils"
	ws "github.com/SIRI-bit-tech/bidforge-sub000/infrastructure/websocket"
)

type WebSocketController interface {
	HandleConnection(ctx *gin.Context)
}

type webSocketController struct {
	cfg           config.GatewayConfig
	verifier      *security.TokenVerifier
	limiter       *ratelimit.Limiter
	wsRoomManager *ws.RoomManager
	wsCore        *ws.Core
	log           *logger.Logger
}

func NewWebSocketController(
	cfg config.GatewayConfig,
	verifier *security.TokenVerifier,
	limiter *ratelimit.Limiter,
	wsRoomManager *ws.RoomManager,
	wsCore *ws.Core,
	log *logger.Logger,
) WebSocketController {
	return &webSocketController{
		cfg:           cfg,
		verifier:      verifier,
		limiter:       limiter,
		wsRoomManager: wsRoomManager,
		wsCore:        wsCore,
		log:           log,
	}
}

// HandleConnection authenticates the credential token and upgrades the
// request. Authentication failure rejects the attempt before any room
// operation is possible; the caller may retry with a fresh token.
func (c *webSocketController) HandleConnection(ctx *gin.Context) {
	token := tokenFromRequest(ctx)

	principal, err := c.verifier.Verify(token)
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, gin.H{
			"error":   "unauthorized",
			"message": "a valid credential token is required",
		})
		return
	}

	res := c.limiter.Check(principal.ID, ratelimit.ActionConnect, ratelimit.Config{
		Max:    c.cfg.ConnectLimit.Max,
		Window: c.cfg.ConnectLimit.Window,
	})
	if !res.Allowed {
		ctx.Header("Retry-After", res.ResetAt.Format(http.TimeFormat))
		ctx.JSON(http.StatusTooManyRequests, gin.H{
			"error":   "rate_limit_exceeded",
			"message": "too many connection attempts",
		})
		return
	}

	conn, err := c.wsRoomManager.Upgrade(ctx.Writer, ctx.Request)
	if err != nil {
		c.log.Error("websocket upgrade failed",
			zap.Error(err),
			zap.String("principalID", principal.ID),
		)
		return
	}

	client := ws.NewClient(conn, *principal, uuid.NewString(), c.log)
	c.wsCore.Register() <- client

	go client.WritePump(c.wsCore)
	go client.ReadPump(c.wsCore)
}

func tokenFromRequest(ctx *gin.Context) string {
	return utils.FirstNonEmpty(
		ctx.Query("token"),
		strings.TrimPrefix(ctx.GetHeader("Authorization"), "Bearer "),
	)
}
