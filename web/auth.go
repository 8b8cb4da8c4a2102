package web

import (
	"crypto/subtle"
	"log"
	"net/http"

	"github.com/goji/httpauth"
	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
)

const (
	cookieName  = "modelopt"
	cookieValue = "authenticated"
	sessionName = "modelopt-session"
)

type authMiddleware struct {
	sc    *securecookie.SecureCookie
	store sessions.Store
	opts  httpauth.AuthOptions
}

// Setup new middleware for authenticating requests against the configured
// credentials.
func newAuthMiddleware(user, pass string) authMiddleware {
	hashKey := securecookie.GenerateRandomKey(32)
	blockKey := securecookie.GenerateRandomKey(32)
	check := func(u, p string, r *http.Request) bool {
		ok := subtle.ConstantTimeCompare([]byte(u), []byte(user)) == 1 &&
			subtle.ConstantTimeCompare([]byte(p), []byte(pass)) == 1
		log.Println("auth", u, ok)
		return ok
	}
	return authMiddleware{
		sc:    securecookie.New(hashKey, blockKey),
		store: sessions.NewCookieStore(hashKey),
		opts:  httpauth.AuthOptions{Realm: "Restricted", AuthFunc: check},
	}
}

// If session cookie is not present then use basic auth to login and set a
// cookie.
func (mw authMiddleware) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cookie, err := r.Cookie(cookieName); err == nil {
			var value string
			if err = mw.sc.Decode(cookieName, cookie.Value, &value); err == nil && value == cookieValue {
				next.ServeHTTP(w, r)
				return
			}
		}
		httpauth.BasicAuth(mw.opts)(mw.setCookie(next)).ServeHTTP(w, r)
	})
}

func (mw authMiddleware) setCookie(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if encoded, err := mw.sc.Encode(cookieName, cookieValue); err == nil {
			cookie := &http.Cookie{Name: cookieName, Value: encoded, Path: "/"}
			http.SetCookie(w, cookie)
		} else {
			log.Println("error encoding cookie:", err)
		}
		if session, err := mw.store.Get(r, sessionName); err == nil {
			session.Values["login"] = true
			if err = session.Save(r, w); err != nil {
				log.Println("error saving session:", err)
			}
		}
		h.ServeHTTP(w, r)
	})
}
