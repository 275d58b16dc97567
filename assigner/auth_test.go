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
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testJWTSecret = "test-secret-key"

func signTestToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return signed
}

func TestValidateAdminToken(t *testing.T) {
	t.Setenv("JWT_SECRET", testJWTSecret)

	tokenString := signTestToken(t, jwt.MapClaims{
		"emp_code":     "A100",
		"name":         "Ops Admin",
		"role":         "ADMIN",
		"environments": "center-a,center-b",
	})

	identity, err := ValidateAdminToken(tokenString)
	require.NoError(t, err)
	assert.Equal(t, "A100", identity.EmpCode)
	assert.Equal(t, RoleAdmin, identity.Role)
	assert.Equal(t, []string{"center-a", "center-b"}, identity.Environments)
}

func TestValidateAdminTokenArrayEnvironments(t *testing.T) {
	t.Setenv("JWT_SECRET", testJWTSecret)

	tokenString := signTestToken(t, jwt.MapClaims{
		"emp_code":     "A100",
		"role":         "SUPER_ADMIN",
		"environments": []interface{}{"center-a"},
	})

	identity, err := ValidateAdminToken(tokenString)
	require.NoError(t, err)
	assert.Equal(t, RoleSuperAdmin, identity.Role)
	assert.Equal(t, []string{"center-a"}, identity.Environments)
}

func TestValidateAdminTokenRejections(t *testing.T) {
	t.Setenv("JWT_SECRET", testJWTSecret)

	tests := []struct {
		name   string
		claims jwt.MapClaims
	}{
		{"missing emp_code", jwt.MapClaims{"role": "ADMIN"}},
		{"unknown role", jwt.MapClaims{"emp_code": "A100", "role": "VIEWER"}},
		{"missing role", jwt.MapClaims{"emp_code": "A100"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateAdminToken(signTestToken(t, tt.claims))
			assert.Error(t, err)
		})
	}
}

func TestValidateAdminTokenWrongSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", testJWTSecret)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"emp_code": "A100", "role": "ADMIN",
	})
	signed, err := token.SignedString([]byte("some-other-secret"))
	require.NoError(t, err)

	_, err = ValidateAdminToken(signed)
	assert.Error(t, err)
}

func TestValidateAdminTokenNoSecretConfigured(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	_, err := ValidateAdminToken("anything")
	assert.Error(t, err)
}

func TestIdentityCenters(t *testing.T) {
	admin := &AdminIdentity{Role: RoleAdmin, Environments: []string{"center-a", "center-b"}}
	centers := admin.Centers()
	assert.True(t, centers["center-a"])
	assert.True(t, centers["center-b"])
	assert.False(t, centers["center-c"])

	super := &AdminIdentity{Role: RoleSuperAdmin, Environments: []string{"center-a"}}
	assert.Nil(t, super.Centers(), "SUPER_ADMIN is unrestricted")

	var missing *AdminIdentity
	assert.Nil(t, missing.Centers())
}
