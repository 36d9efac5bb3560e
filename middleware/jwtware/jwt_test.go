package jwtware_test

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-onboard/middleware/jwtware"
)

// By default we set an expiration time 1 hour from now
func generateToken(t *testing.T, method jwt.SigningMethod, key []byte, claims jwt.MapClaims) string {
	t.Helper()

	if claims["exp"] == nil {
		claims["exp"] = time.Now().Add(time.Hour).Unix()
	}

	token := jwt.NewWithClaims(method, claims)
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func newApp(cfg jwtware.Config) *fiber.App {
	app := fiber.New()
	app.Use(jwtware.New(cfg))
	app.Get("/me", func(c *fiber.Ctx) error {
		id, err := jwtware.ActingUser(c)
		if err != nil {
			return c.SendStatus(fiber.StatusInternalServerError)
		}
		return c.SendString(id.String())
	})
	return app
}

func doRequest(t *testing.T, app *fiber.App, req *http.Request) (int, string) {
	t.Helper()
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestJWTWare_StoresActingUser(t *testing.T) {
	signingKey := []byte("test-secret")
	userID := uuid.New()

	app := newApp(jwtware.Config{
		SigningKey: jwtware.SigningKey{
			Key:    signingKey,
			JWTAlg: jwt.SigningMethodHS256.Alg(),
		},
	})

	token := generateToken(t, jwt.SigningMethodHS256, signingKey, jwt.MapClaims{"sub": userID.String()})

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	status, body := doRequest(t, app, req)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, userID.String(), body)
}

func TestJWTWare_MissingToken(t *testing.T) {
	app := newApp(jwtware.Config{
		SigningKey: jwtware.SigningKey{Key: []byte("test-secret")},
	})

	status, body := doRequest(t, app, httptest.NewRequest(http.MethodGet, "/me", nil))
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, jwtware.ErrJWTMissingOrMalformed.Error(), body)
}

func TestJWTWare_ExpiredToken(t *testing.T) {
	signingKey := []byte("test-secret")
	app := newApp(jwtware.Config{
		SigningKey: jwtware.SigningKey{Key: signingKey},
	})

	token := generateToken(t, jwt.SigningMethodHS256, signingKey, jwt.MapClaims{
		"sub": uuid.NewString(),
		"exp": time.Now().Add(-time.Hour).Unix(),
	})

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	status, _ := doRequest(t, app, req)
	assert.Equal(t, fiber.StatusUnauthorized, status)
}

func TestJWTWare_RejectsNonUUIDSubject(t *testing.T) {
	signingKey := []byte("test-secret")
	var seen error
	app := newApp(jwtware.Config{
		SigningKey: jwtware.SigningKey{Key: signingKey},
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			seen = err
			return c.SendStatus(fiber.StatusUnauthorized)
		},
	})

	token := generateToken(t, jwt.SigningMethodHS256, signingKey, jwt.MapClaims{"sub": "12345"})
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	status, _ := doRequest(t, app, req)
	assert.Equal(t, fiber.StatusUnauthorized, status)
	assert.ErrorIs(t, seen, jwtware.ErrInvalidSubject)
}

func TestJWTWare_WrongAlgorithm(t *testing.T) {
	signingKey := []byte("test-secret")
	app := newApp(jwtware.Config{
		SigningKey: jwtware.SigningKey{
			Key:    signingKey,
			JWTAlg: jwt.SigningMethodHS512.Alg(),
		},
	})

	token := generateToken(t, jwt.SigningMethodHS256, signingKey, jwt.MapClaims{"sub": uuid.NewString()})
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	status, _ := doRequest(t, app, req)
	assert.Equal(t, fiber.StatusUnauthorized, status)
}

func TestJWTWare_CookieLookup(t *testing.T) {
	signingKey := []byte("test-secret")
	userID := uuid.New()
	app := newApp(jwtware.Config{
		SigningKey:  jwtware.SigningKey{Key: signingKey},
		TokenLookup: "header:Authorization,cookie:jwt",
	})

	token := generateToken(t, jwt.SigningMethodHS256, signingKey, jwt.MapClaims{"sub": userID.String()})
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(&http.Cookie{Name: "jwt", Value: token})

	status, body := doRequest(t, app, req)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, userID.String(), body)
}

func TestJWTWare_FilterSkipsValidation(t *testing.T) {
	app := fiber.New()
	app.Use(jwtware.New(jwtware.Config{
		SigningKey: jwtware.SigningKey{Key: []byte("test-secret")},
		Filter: func(c *fiber.Ctx) bool {
			return c.Path() == "/public"
		},
	}))
	app.Get("/public", func(c *fiber.Ctx) error {
		_, err := jwtware.ActingUser(c)
		assert.ErrorIs(t, err, jwtware.ErrNoActingUser)
		return c.SendString("ok")
	})

	status, body := doRequest(t, app, httptest.NewRequest(http.MethodGet, "/public", nil))
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "ok", body)
}

func TestJWTWare_CustomKeyfunc(t *testing.T) {
	var seen error
	app := newApp(jwtware.Config{
		KeyFunc: func(token *jwt.Token) (any, error) {
			return nil, errors.New("forced error from custom KeyFunc")
		},
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			seen = err
			return c.SendStatus(fiber.StatusUnauthorized)
		},
	})

	token := generateToken(t, jwt.SigningMethodHS256, []byte("any"), jwt.MapClaims{"sub": uuid.NewString()})
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	status, _ := doRequest(t, app, req)
	assert.Equal(t, fiber.StatusUnauthorized, status)
	require.Error(t, seen)
	assert.Contains(t, seen.Error(), "forced error")
}

func TestJWTWare_MultipleSigningKeys(t *testing.T) {
	key1 := []byte("key-one-secret")
	key2 := []byte("key-two-secret")
	userID := uuid.New()

	app := newApp(jwtware.Config{
		SigningKeys: map[string]jwtware.SigningKey{
			"key-1": {Key: key1, JWTAlg: jwt.SigningMethodHS256.Alg()},
			"key-2": {Key: key2, JWTAlg: jwt.SigningMethodHS256.Alg()},
		},
	})

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": userID.String(),
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	token.Header["kid"] = "key-2"
	signed, err := token.SignedString(key2)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+signed)

	status, body := doRequest(t, app, req)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, userID.String(), body)
}

func TestGetExtractors(t *testing.T) {
	extractors := jwtware.GetExtractors("header:Authorization, query:token, cookie:jwt, bogus")
	assert.Len(t, extractors, 3)
}
