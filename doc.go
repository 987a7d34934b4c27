// Package sharepoint is a convenience layer over the SharePoint REST API.
//
// It exposes stateless functions for the individual remote operations
// (lists, items, folders, files, attachments, site users) and a Manager
// facade that holds an authenticated connection plus lazily-cached list and
// folder handles. Remote reads follow SharePoint's two-phase contract:
// handles are staged with ClientContext.Load and materialized by a single
// ClientContext.Execute flush.
//
// The package adds no retry, caching, or conflict resolution of its own
// beyond what the rest transport provides; every operation is a direct
// mapping onto one remote call or a small fixed sequence of them.
package sharepoint
