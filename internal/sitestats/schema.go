package sitestats

import sq "github.com/Masterminds/squirrel"

const (
	tableSiteStats  = "site_stats"
	colRowID        = "ss_row_id"
	colTotalEdits   = "ss_total_edits"
	colGoodArticles = "ss_good_articles"
	colTotalPages   = "ss_total_pages"
	colUsers        = "ss_users"
	colActiveUsers  = "ss_active_users"
	colImages       = "ss_images"

	tableRevision = "revision"
	tableArchive  = "archive"

	tablePage         = "page"
	colPageID         = "page_id"
	colPageNamespace  = "page_namespace"
	colPageIsRedirect = "page_is_redirect"
	colPageLen        = "page_len"

	tablePageLink = "page_link"
	colPLTarget   = "pl_target"

	tableUser  = "site_user"
	tableImage = "image"

	tableUserGroup = "user_group"
	colUGGroup     = "ug_group"
	colUGExpiry    = "ug_expiry"

	// The counters table holds exactly one logical row, keyed by this id.
	statsRowID = 1
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
