package middleware

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"github.com/askeywa/Immigration-V2-sub004/internal/apperr"
	"github.com/askeywa/Immigration-V2-sub004/internal/platform/rbac"
	"github.com/askeywa/Immigration-V2-sub004/internal/rls"
	"github.com/askeywa/Immigration-V2-sub004/internal/server/interceptors"
	"github.com/askeywa/Immigration-V2-sub004/internal/violation"
)

// maxInspectedBody bounds how much of a request body the guards read.
const maxInspectedBody = 1 << 20

// tenantParams are the path and query parameter names that carry a tenant id.
var tenantParams = []string{"tenantId", "tenant_id"}

// RequireSuperAdmin rejects requests without a super-admin context and session.
func RequireSuperAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := rbac.RequireSuperAdmin(c.Request.Context()); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

// RequireTenantContext rejects requests not scoped to exactly one tenant.
func RequireTenantContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := rbac.RequireTenantContext(c.Request.Context()); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

// TenantGuard rejects tenant ids in the path, query or body that differ from
// the request's tenant, and query or body input carrying query operator
// syntax. Bodies are inspected whatever their Content-Type: anything that
// parses as JSON is checked as JSON, form bodies field by field, and other
// structured formats gin can bind are refused. Rejections are recorded to
// recorder before the response is written. The body is restored for
// downstream handlers.
func TenantGuard(recorder violation.Recorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		enf, err := rls.FromContext(ctx, recorder)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if s, ok := interceptors.SessionFromContext(ctx); ok {
			enf = enf.WithActor(s.UserID, s.ID)
		}

		for _, name := range tenantParams {
			if err := enf.RejectCrossTenantReference(ctx, c.Param(name)); err != nil {
				AbortWithError(c, err)
				return
			}
		}
		if err := checkValues(c, enf, c.Request.URL.Query()); err != nil {
			AbortWithError(c, err)
			return
		}

		body, form, err := readBody(c)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if form != nil {
			if err := checkValues(c, enf, form); err != nil {
				AbortWithError(c, err)
				return
			}
		}
		if body != nil {
			if err := checkBodyTenants(c, enf, body); err != nil {
				AbortWithError(c, err)
				return
			}
			if err := enf.RejectUnsafeQueryOperators(ctx, body); err != nil {
				AbortWithError(c, err)
				return
			}
		}
		c.Next()
	}
}

// checkValues applies the tenant and operator checks to query or form values.
func checkValues(c *gin.Context, enf *rls.Enforcer, values url.Values) error {
	ctx := c.Request.Context()
	for _, name := range tenantParams {
		for _, candidate := range values[name] {
			if err := enf.RejectCrossTenantReference(ctx, candidate); err != nil {
				return err
			}
		}
	}
	return enf.RejectUnsafeQueryOperators(ctx, map[string][]string(values))
}

// checkBodyTenants applies EnsureTenantID to the body object, or to each
// object of a top-level array.
func checkBodyTenants(c *gin.Context, enf *rls.Enforcer, body any) error {
	switch t := body.(type) {
	case map[string]any:
		_, err := enf.EnsureTenantID(c.Request.Context(), t)
		return err
	case []any:
		for _, item := range t {
			if m, ok := item.(map[string]any); ok {
				if _, err := enf.EnsureTenantID(c.Request.Context(), m); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// boundFormats are the non-JSON body types gin's binders decode into structs.
var boundFormats = []string{
	binding.MIMEXML, binding.MIMEXML2, binding.MIMEYAML, binding.MIMEYAML2,
	binding.MIMETOML, binding.MIMEPROTOBUF, binding.MIMEMSGPACK, binding.MIMEMSGPACK2,
}

// readBody reads and restores the request body. It returns the decoded body
// when it parses as JSON, or the fields of a form body. Opaque bodies such as
// file uploads yield neither.
func readBody(c *gin.Context) (any, url.Values, error) {
	if c.Request.Body == nil || c.Request.Body == http.NoBody {
		return nil, nil, nil
	}
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxInspectedBody+1))
	if err != nil {
		return nil, nil, apperr.Wrap(err, apperr.CodeInvalidRequest, "unreadable body")
	}
	if len(raw) > maxInspectedBody {
		return nil, nil, apperr.Wrap(fmt.Errorf("body exceeds %d bytes", maxInspectedBody), apperr.CodeInvalidRequest, "unreadable body")
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(raw))
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil, nil
	}

	ct := c.ContentType()
	var body any
	jsonErr := json.Unmarshal(raw, &body)
	if jsonErr == nil {
		return body, nil, nil
	}
	switch {
	case strings.Contains(ct, "json"):
		return nil, nil, apperr.Wrap(jsonErr, apperr.CodeInvalidRequest, "unreadable body")
	case ct == binding.MIMEPOSTForm:
		form, err := url.ParseQuery(string(raw))
		if err != nil {
			return nil, nil, apperr.Wrap(err, apperr.CodeInvalidRequest, "unreadable body")
		}
		return nil, form, nil
	case ct == binding.MIMEMultipartPOSTForm:
		if err := c.Request.ParseMultipartForm(maxInspectedBody); err != nil {
			return nil, nil, apperr.Wrap(err, apperr.CodeInvalidRequest, "unreadable body")
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(raw))
		return nil, url.Values(c.Request.MultipartForm.Value), nil
	case slices.Contains(boundFormats, ct):
		return nil, nil, apperr.Wrap(fmt.Errorf("content type %q", ct), apperr.CodeInvalidRequest, "unsupported body format")
	}
	return nil, nil, nil
}
