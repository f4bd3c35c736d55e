// Package api is the request gateway between the triage core and the
// moderation server. It defines the wire records the server produces and a
// small JSON-over-HTTP client that consumes them.
//
// # Endpoints
//
// Feeds (GET):
//
//	/data/{source}[?before_user_id=N | after_user_id=N][&order=asc|desc]
//	  -> {"users": [UserRecord, ...]}
//
// Single user refresh (GET):
//
//	/user/{id} -> UserRecord
//
// Classification (POST):
//
//	/classify/{id}   body: "legit" | "suspect"
//
// # Error Model
//
// Every status outside 2xx is reported as an *HTTPError carrying the method,
// URL and status code. Network failures and context cancellation propagate
// unchanged from net/http. Callers treat both as transport errors: the
// operation is rejected and nothing is merged into the entity store.
//
// # Usage Example
//
//	client := api.NewClient("https://spam.example.org", nil)
//	users, err := client.ListUsers(ctx, api.SourceNewcomers, api.PageQuery{Order: api.OrderDesc})
//	if err != nil {
//	    return err
//	}
//	if err := client.Classify(ctx, users[0].ID, "suspect"); err != nil {
//	    var herr *api.HTTPError
//	    if errors.As(err, &herr) && herr.Status == http.StatusForbidden {
//	        // session expired
//	    }
//	}
//
// The client holds no state beyond its base URL and *http.Client and is safe
// for concurrent use.
package api
