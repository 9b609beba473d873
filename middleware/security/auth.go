package security

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	jwtlib "github.com/golang-jwt/jwt/v5"

	"threadline/tools/errs"
)

// CtxUserKey is where the middleware stores the authenticated user id.
const CtxUserKey = "authUserID"

type Options struct {
	Secret []byte
	Alg    string        // HS256/HS384/HS512, default HS256
	TTL    time.Duration // token validity on Generate, default 2h
}

func DefaultOptions(secret []byte) Options {
	return Options{Secret: secret, Alg: "HS256", TTL: 2 * time.Hour}
}

// Generate issues a session token whose sub claim is the stable user id.
func Generate(opts Options, userID string) (string, time.Time, error) {
	method, err := signingMethod(opts.Alg)
	if err != nil {
		return "", time.Time{}, err
	}
	if opts.TTL <= 0 {
		opts.TTL = 2 * time.Hour
	}
	now := time.Now()
	exp := now.Add(opts.TTL)
	tok := jwtlib.NewWithClaims(method, jwtlib.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"exp": exp.Unix(),
	})
	signed, err := tok.SignedString(opts.Secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Verify parses a token and returns the user id it was issued for.
func Verify(opts Options, token string) (string, error) {
	parsed, err := jwtlib.Parse(token, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errs.ErrTokenInvalid.WithDetail("unexpected alg")
		}
		return opts.Secret, nil
	})
	if err != nil || !parsed.Valid {
		return "", errs.ErrTokenInvalid.WrapMsg("parse", "err", err)
	}
	claims, ok := parsed.Claims.(jwtlib.MapClaims)
	if !ok {
		return "", errs.ErrTokenInvalid.WithDetail("claims type mismatch")
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", errs.ErrTokenInvalid.WithDetail("missing sub")
	}
	return sub, nil
}

// Middleware authenticates the request and stores the caller's user id in
// the gin context. Accepts Authorization: Bearer <token>.
func Middleware(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ""
		if authz := strings.TrimSpace(c.GetHeader("Authorization")); authz != "" {
			if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
				token = strings.TrimSpace(authz[len("bearer "):])
			}
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errs.ErrTokenInvalid)
			return
		}
		uid, err := Verify(opts, token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errs.ErrTokenInvalid)
			return
		}
		c.Set(CtxUserKey, uid)
		c.Next()
	}
}

// UserID reads the authenticated caller out of the gin context.
func UserID(c *gin.Context) string {
	v, _ := c.Get(CtxUserKey)
	s, _ := v.(string)
	return s
}

func signingMethod(alg string) (jwtlib.SigningMethod, error) {
	switch strings.ToUpper(strings.TrimSpace(alg)) {
	case "", "HS256":
		return jwtlib.SigningMethodHS256, nil
	case "HS384":
		return jwtlib.SigningMethodHS384, nil
	case "HS512":
		return jwtlib.SigningMethodHS512, nil
	default:
		return nil, errs.ErrTokenInvalid.WithDetail("unsupported alg " + alg)
	}
}
