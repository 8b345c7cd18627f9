package rule

import "github.com/syncd-io/syncd/internal/errs"

var errConfigInvalid = errs.ConfigInvalid
