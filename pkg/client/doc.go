/*
Package client is a Go client for the burrow admin API.

	c := client.NewClient("127.0.0.1:9090", os.Getenv("BURROW_ADMIN_AUTH_KEY"))

	if _, err := c.Create(ctx, "tenant-a", client.CreateRequest{}); err != nil {
		if client.IsKind(err, "already_exists") {
			// fine
		}
	}

	list, err := c.List(ctx, false)

Failed calls return *APIError carrying the HTTP status and the error kind
from the response body. The auth key is sent as a bearer token.
*/
package client
