package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	. "github.com/smartystreets/goconvey/convey"
	"github.com/theapemachine/mnemo/pkg/errors"
	"github.com/theapemachine/mnemo/pkg/provider"
)

func TestIssueAndAuthenticate(t *testing.T) {
	Convey("Given an auth service", t, func() {
		svc, err := NewService(Config{JWTSecret: "test-secret", RateLimit: 2})
		So(err, ShouldBeNil)

		token, err := svc.Issue("user1", "coach", provider.TierPremium)
		So(err, ShouldBeNil)

		Convey("A valid bearer token should yield the principal", func() {
			principal, err := svc.Authenticate("Bearer " + token)
			So(err, ShouldBeNil)
			So(principal, ShouldResemble, Principal{User: "user1", Persona: "coach", Tier: provider.TierPremium})
		})

		Convey("A missing token should be rejected", func() {
			_, err := svc.Authenticate("")
			So(errors.Is(err, ErrMissingToken), ShouldBeTrue)
		})

		Convey("A token signed with another key should be rejected", func() {
			other, _ := NewService(Config{JWTSecret: "other-secret"})
			forged, _ := other.Issue("user1", "", provider.TierEnterprise)

			_, err := svc.Authenticate("Bearer " + forged)
			So(errors.Is(err, ErrInvalidToken), ShouldBeTrue)
		})

		Convey("An expired token should be rejected", func() {
			svc.now = func() time.Time { return time.Now().Add(48 * time.Hour) }

			_, err := svc.Authenticate("Bearer " + token)
			So(errors.Is(err, ErrInvalidToken), ShouldBeTrue)
		})

		Convey("A non-HMAC algorithm should be rejected", func() {
			unsigned, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "user1"}).
				SignedString(jwt.UnsafeAllowNoneSignatureType)

			_, err := svc.Authenticate("Bearer " + unsigned)
			So(errors.Is(err, ErrInvalidToken), ShouldBeTrue)
		})

		Convey("Requests beyond the rate limit should be refused", func() {
			_, err1 := svc.Authenticate("Bearer " + token)
			_, err2 := svc.Authenticate("Bearer " + token)
			_, err3 := svc.Authenticate("Bearer " + token)

			So(err1, ShouldBeNil)
			So(err2, ShouldBeNil)
			So(errors.Is(err3, ErrRateLimited), ShouldBeTrue)
			So(svc.RetryAfter("user1"), ShouldBeGreaterThan, 0)
		})
	})

	Convey("A service without a secret should not start", t, func() {
		_, err := NewService(Config{})
		So(errors.KindOf(err), ShouldEqual, errors.KindFatalConfig)
	})
}
