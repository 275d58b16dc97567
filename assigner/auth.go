// Copyright 2025 LinguaFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package assigner

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// AdminRole distinguishes center-scoped admins from unrestricted ones
type AdminRole string

const (
	RoleAdmin      AdminRole = "ADMIN"
	RoleSuperAdmin AdminRole = "SUPER_ADMIN"
)

// AdminIdentity is the caller extracted from a bearer token. Environments
// lists the center codes an ADMIN may act on; SUPER_ADMIN sees everything.
type AdminIdentity struct {
	EmpCode      string
	Name         string
	Role         AdminRole
	Environments []string
}

// Centers returns the visibility set for candidate filtering: nil means
// unrestricted.
func (a *AdminIdentity) Centers() map[string]bool {
	if a == nil || a.Role == RoleSuperAdmin {
		return nil
	}
	centers := make(map[string]bool, len(a.Environments))
	for _, env := range a.Environments {
		centers[env] = true
	}
	return centers
}

type contextKey string

const identityContextKey contextKey = "adminIdentity"

// IdentityFrom retrieves the authenticated caller from a request context
func IdentityFrom(ctx context.Context) *AdminIdentity {
	identity, _ := ctx.Value(identityContextKey).(*AdminIdentity)
	return identity
}

func jwtSecret() []byte {
	return []byte(os.Getenv("JWT_SECRET"))
}

// ValidateAdminToken parses and verifies a bearer token and extracts the
// admin identity from its claims.
func ValidateAdminToken(tokenString string) (*AdminIdentity, error) {
	if len(jwtSecret()) == 0 {
		return nil, fmt.Errorf("JWT_SECRET not configured")
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return jwtSecret(), nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid token: %v", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}

	empCode := getClaimString(claims, "emp_code")
	if empCode == "" {
		return nil, fmt.Errorf("token missing emp_code claim")
	}

	role := AdminRole(getClaimString(claims, "role"))
	switch role {
	case RoleAdmin, RoleSuperAdmin:
	default:
		return nil, fmt.Errorf("role %q not permitted", role)
	}

	return &AdminIdentity{
		EmpCode:      empCode,
		Name:         getClaimString(claims, "name"),
		Role:         role,
		Environments: getClaimStringArray(claims, "environments"),
	}, nil
}

func getClaimString(claims jwt.MapClaims, key string) string {
	if val, ok := claims[key].(string); ok {
		return val
	}
	return ""
}

func getClaimStringArray(claims jwt.MapClaims, key string) []string {
	switch val := claims[key].(type) {
	case string:
		if val == "" {
			return []string{}
		}
		return strings.Split(val, ",")
	case []interface{}:
		out := make([]string, 0, len(val))
		for _, v := range val {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return []string{}
}

// authMiddleware validates the bearer token and stashes the identity in the
// request context. Health and metrics endpoints are mounted outside it.
func authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeError(w, http.StatusUnauthorized, ReasonInvalidInput, "missing bearer token")
			return
		}

		identity, err := ValidateAdminToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			writeError(w, http.StatusUnauthorized, ReasonInvalidInput, err.Error())
			return
		}

		ctx := context.WithValue(r.Context(), identityContextKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireSuperAdmin guards destructive operator endpoints
func requireSuperAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := IdentityFrom(r.Context())
		if identity == nil || identity.Role != RoleSuperAdmin {
			writeError(w, http.StatusForbidden, ReasonInvalidInput, "SUPER_ADMIN role required")
			return
		}
		next(w, r)
	}
}
